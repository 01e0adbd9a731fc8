package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Repository persists session snapshots across restarts
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository with SQLite
func NewRepository(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &Repository{db: db}

	// Run migrations
	if err := repo.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// migrate creates the database schema
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			guild_id VARCHAR(20) PRIMARY KEY,
			tournament_id VARCHAR(100) NOT NULL,
			api_key VARCHAR(100) NOT NULL,
			owner_id VARCHAR(20) NOT NULL,
			channel_id VARCHAR(20) NOT NULL,
			category_id VARCHAR(20),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS session_matches (
			guild_id VARCHAR(20) NOT NULL,
			match_id INTEGER NOT NULL,
			player1_tag VARCHAR(100) NOT NULL,
			player2_tag VARCHAR(100) NOT NULL,
			player1_id INTEGER NOT NULL,
			player2_id INTEGER NOT NULL,
			flipped BOOLEAN NOT NULL,
			first BOOLEAN NOT NULL,
			channel_ids TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (guild_id, match_id),
			FOREIGN KEY (guild_id) REFERENCES sessions(guild_id) ON DELETE CASCADE
		)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// SaveAll replaces the stored snapshots wholesale. Called once at
// graceful shutdown.
func (r *Repository) SaveAll(snapshots []Snapshot) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM session_matches`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return err
	}

	for _, snap := range snapshots {
		_, err := tx.Exec(
			`INSERT INTO sessions (guild_id, tournament_id, api_key, owner_id, channel_id, category_id)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			snap.GuildID, snap.TournamentID, snap.APIKey, snap.OwnerID, snap.ChannelID, snap.CategoryID,
		)
		if err != nil {
			return err
		}

		for _, m := range snap.Matches {
			channels, err := json.Marshal(m.ChannelIDs)
			if err != nil {
				return err
			}
			_, err = tx.Exec(
				`INSERT INTO session_matches (guild_id, match_id, player1_tag, player2_tag,
				 player1_id, player2_id, flipped, first, channel_ids)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				snap.GuildID, m.MatchID, m.Player1Tag, m.Player2Tag,
				m.Player1ID, m.Player2ID, m.Flipped, m.First, string(channels),
			)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// ConsumeAll reads every stored snapshot and deletes them in the same
// transaction, so a snapshot is only ever rehydrated once.
func (r *Repository) ConsumeAll() ([]Snapshot, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT guild_id, tournament_id, api_key, owner_id, channel_id, COALESCE(category_id, '')
		 FROM sessions`,
	)
	if err != nil {
		return nil, err
	}

	var snapshots []Snapshot
	index := make(map[string]int)
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.GuildID, &snap.TournamentID, &snap.APIKey,
			&snap.OwnerID, &snap.ChannelID, &snap.CategoryID); err != nil {
			rows.Close()
			return nil, err
		}
		index[snap.GuildID] = len(snapshots)
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = tx.Query(
		`SELECT guild_id, match_id, player1_tag, player2_tag, player1_id, player2_id,
		 flipped, first, channel_ids
		 FROM session_matches`,
	)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			guildID  string
			m        MatchSnapshot
			channels string
		)
		if err := rows.Scan(&guildID, &m.MatchID, &m.Player1Tag, &m.Player2Tag,
			&m.Player1ID, &m.Player2ID, &m.Flipped, &m.First, &channels); err != nil {
			rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(channels), &m.ChannelIDs); err != nil {
			rows.Close()
			return nil, err
		}
		if i, ok := index[guildID]; ok {
			snapshots[i].Matches = append(snapshots[i].Matches, m)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.Exec(`DELETE FROM session_matches`); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return snapshots, nil
}
