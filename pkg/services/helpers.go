package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/models"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// intentExists confirms the intent row inside the caller's transaction.
func intentExists(ctx context.Context, tx *sqlx.Tx, intentID string) error {
	var one int
	err := tx.QueryRowxContext(ctx, tx.Rebind(
		`SELECT 1 FROM intents WHERE id = ?`), intentID).Scan(&one)
	if isNoRows(err) {
		return fmt.Errorf("intent %s: %w", intentID, ErrNotFound)
	}
	return err
}

// intentExistsDB confirms the intent row outside any transaction.
func intentExistsDB(ctx context.Context, db *database.Client, intentID string) error {
	var one int
	err := db.GetContext(ctx, &one, db.Rebind(`SELECT 1 FROM intents WHERE id = ?`), intentID)
	if isNoRows(err) {
		return fmt.Errorf("intent %s: %w", intentID, ErrNotFound)
	}
	return err
}

// getIntentDB loads an intent row outside any transaction.
func getIntentDB(ctx context.Context, db *database.Client, intentID string) (*models.Intent, error) {
	var intent models.Intent
	err := db.GetContext(ctx, &intent, db.Rebind(`SELECT * FROM intents WHERE id = ?`), intentID)
	if isNoRows(err) {
		return nil, fmt.Errorf("intent %s: %w", intentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load intent: %w", err)
	}
	return &intent, nil
}

// getIntentTx loads an intent row inside the caller's transaction.
func getIntentTx(ctx context.Context, tx *sqlx.Tx, intentID string) (*models.Intent, error) {
	var intent models.Intent
	err := tx.GetContext(ctx, &intent, tx.Rebind(`SELECT * FROM intents WHERE id = ?`), intentID)
	if isNoRows(err) {
		return nil, fmt.Errorf("intent %s: %w", intentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load intent: %w", err)
	}
	return &intent, nil
}

// assignedAgents lists the agent ids assigned to an intent inside the
// caller's transaction.
func assignedAgents(ctx context.Context, tx *sqlx.Tx, intentID string) ([]string, error) {
	agents := []string{}
	err := tx.SelectContext(ctx, &agents, tx.Rebind(
		`SELECT agent_id FROM intent_agents WHERE intent_id = ?`), intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignments: %w", err)
	}
	return agents, nil
}
