// Command loader backfills raw messages from a JSON export (tweets or SMS)
// into the intake store. Safe to re-run: duplicates are skipped via the
// (source, source_id) uniqueness constraint.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/crisisops/floodwatch/internal/config"
	"github.com/crisisops/floodwatch/internal/models"
	"github.com/crisisops/floodwatch/internal/store"
)

// tweetRecord mirrors the tweet archive export format.
type tweetRecord struct {
	ID        json.Number `json:"id"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"created_at"`
	AuthorID  string      `json:"author_id"`
}

// smsRecord mirrors the SMS gateway export format.
type smsRecord struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Body       string `json:"body"`
	MessageSid string `json:"messageSid"`
}

func main() {
	var (
		kind = flag.String("kind", "", "message kind: twitter|sms")
		file = flag.String("file", "", "path to the JSON export")
	)
	flag.Parse()

	if *file == "" || (*kind != models.SourceTwitter && *kind != models.SourceSMS) {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	msgs, err := readMessages(*kind, *file)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("loaded %d records from %s", len(msgs), *file)

	db, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := db.EnsureSchema(); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	inserted := 0
	for _, m := range msgs {
		ok, err := db.InsertRawMessage(ctx, m)
		if err != nil {
			log.Fatalf("insert %s/%s: %v", m.Source, m.SourceID, err)
		}
		if ok {
			inserted++
		}
	}
	log.Printf("inserted %d new messages (%d duplicates skipped)", inserted, len(msgs)-inserted)
}

func readMessages(kind, path string) ([]models.RawMessage, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var msgs []models.RawMessage
	switch kind {
	case models.SourceTwitter:
		var tweets []tweetRecord
		if err := json.Unmarshal(b, &tweets); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, t := range tweets {
			msgs = append(msgs, models.RawMessage{
				Source:     models.SourceTwitter,
				SourceID:   sourceID(t.ID.String()),
				Sender:     t.AuthorID,
				Body:       t.Text,
				ReceivedAt: t.CreatedAt,
			})
		}
	case models.SourceSMS:
		var texts []smsRecord
		if err := json.Unmarshal(b, &texts); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, s := range texts {
			msgs = append(msgs, models.RawMessage{
				Source:   models.SourceSMS,
				SourceID: sourceID(s.MessageSid),
				Sender:   s.From,
				Body:     s.Body,
			})
		}
	}
	return msgs, nil
}

// sourceID falls back to a generated id for records missing one; such rows
// cannot dedupe across reloads but are still ingested.
func sourceID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}
