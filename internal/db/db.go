package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn, feedChannel string, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db, feedChannel); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied", zap.String("feed_channel", feedChannel))
	return db, nil
}

func runMigrations(db *sqlx.DB, feedChannel string) error {
	for _, m := range migrations(feedChannel) {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func migrations(feedChannel string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS profiles (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            name TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS connections (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            mentor_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
            mentee_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
            status TEXT NOT NULL DEFAULT 'pending',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            connection_id UUID NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
            sender_id UUID NOT NULL,
            content TEXT NOT NULL,
            read BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS messages_connection_created_idx ON messages (connection_id, created_at);`,
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION notify_message_change() RETURNS trigger AS $$
        BEGIN
            PERFORM pg_notify('%s', json_build_object('op', TG_OP, 'id', NEW.id, 'connection_id', NEW.connection_id, 'read', NEW.read)::text);
            RETURN NEW;
        END;
        $$ LANGUAGE plpgsql;`, feedChannel),
		`DROP TRIGGER IF EXISTS messages_notify ON messages;`,
		`CREATE TRIGGER messages_notify AFTER INSERT OR UPDATE ON messages
            FOR EACH ROW EXECUTE FUNCTION notify_message_change();`,
	}
}
