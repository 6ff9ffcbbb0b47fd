package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// historyDoc is the Mongo-flavored shape of one history entry.
type historyDoc struct {
	Iteration int            `bson:"iteration"`
	Timestamp time.Time      `bson:"timestamp"`
	Data      AggregatedData `bson:"data"`
}

// sessionBody is the Mongo `data` subdocument: the full session body minus
// the top-level fields the collection schema promotes for querying.
type sessionBody struct {
	UserQuery         string         `bson:"user_query"`
	SystemInstruction string         `bson:"system_instruction,omitempty"`
	Settings          Settings       `bson:"settings"`
	Status            SessionStatus  `bson:"status"`
	CreatedAt         time.Time      `bson:"created_at"`
	UpdatedAt         time.Time      `bson:"updated_at"`
	EndTime           *time.Time     `bson:"end_time,omitempty"`
	CurrentIteration  int            `bson:"current_iteration"`
	AggregatedData    AggregatedData `bson:"aggregated_data"`
	LastError         string         `bson:"last_error,omitempty"`
}

// sessionDoc is the full Mongo document:
// {_id, user_id?, created_at, updated_at, status, current_iteration, data,
// last_error, version, history}.
type sessionDoc struct {
	ID               string       `bson:"_id"`
	UserID           string       `bson:"user_id,omitempty"`
	CreatedAt        time.Time    `bson:"created_at"`
	UpdatedAt        time.Time    `bson:"updated_at"`
	Status           SessionStatus `bson:"status"`
	CurrentIteration int          `bson:"current_iteration"`
	Data             sessionBody  `bson:"data"`
	LastError        string       `bson:"last_error,omitempty"`
	Version          int          `bson:"version"`
	History          []historyDoc `bson:"history"`
}

// hashDoc is the integrity_hashes collection's single document shape.
type hashDoc struct {
	SessionID    string `bson:"session_id"`
	SessionHash  string `bson:"session_hash"`
}

func toSession(doc sessionDoc) *Session {
	history := make([]HistoryEntry, 0, len(doc.History))
	for _, h := range doc.History {
		history = append(history, HistoryEntry{Iteration: h.Iteration, Timestamp: h.Timestamp, Data: h.Data})
	}
	return &Session{
		SessionID:         doc.ID,
		UserID:            doc.UserID,
		UserQuery:         doc.Data.UserQuery,
		SystemInstruction: doc.Data.SystemInstruction,
		Settings:          doc.Data.Settings,
		Status:            doc.Status,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
		EndTime:           doc.Data.EndTime,
		CurrentIteration:  doc.CurrentIteration,
		AggregatedData:    doc.Data.AggregatedData,
		History:           history,
		LastError:         doc.LastError,
		Version:           doc.Version,
		IntegrityOK:       true,
	}
}

func toDoc(s *Session) sessionDoc {
	history := make([]historyDoc, 0, len(s.History))
	for _, h := range s.History {
		history = append(history, historyDoc{Iteration: h.Iteration, Timestamp: h.Timestamp, Data: h.Data})
	}
	return sessionDoc{
		ID:               s.SessionID,
		UserID:           s.UserID,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		Status:           s.Status,
		CurrentIteration: s.CurrentIteration,
		Data: sessionBody{
			UserQuery:         s.UserQuery,
			SystemInstruction: s.SystemInstruction,
			Settings:          s.Settings,
			Status:            s.Status,
			CreatedAt:         s.CreatedAt,
			UpdatedAt:         s.UpdatedAt,
			EndTime:           s.EndTime,
			CurrentIteration:  s.CurrentIteration,
			AggregatedData:    s.AggregatedData,
			LastError:         s.LastError,
		},
		LastError: s.LastError,
		Version:   s.Version,
		History:   history,
	}
}

// MongoStore persists sessions in a `sessions` collection plus a sibling
// `integrity_hashes` collection.
type MongoStore struct {
	client   *mongo.Client
	sessions *mongo.Collection
	hashes   *mongo.Collection

	mu       sync.Mutex
	excluded map[string]bool // session ids with a hash mismatch, hidden from List
}

// NewMongoStore connects to uri and pings the server before returning, so
// construction-time failures surface immediately rather than on first use.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	db := client.Database(dbName)
	return &MongoStore{
		client:   client,
		sessions: db.Collection("sessions"),
		hashes:   db.Collection("integrity_hashes"),
		excluded: make(map[string]bool),
	}, nil
}

// Close disconnects the underlying Mongo client.
func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoStore) upsertHash(ctx context.Context, sessionID string, data AggregatedData) error {
	hash, err := computeIntegrityHash(data)
	if err != nil {
		return fmt.Errorf("store: compute hash: %w", err)
	}
	_, err = m.hashes.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"session_id": sessionID, "session_hash": hash}},
		options.Update().SetUpsert(true),
	)
	return err
}

// Save implements Store.Save.
func (m *MongoStore) Save(ctx context.Context, s *Session, iteration int) error {
	now := time.Now().UTC()
	if s.SessionID == "" {
		s.SessionID = uuid.NewString()
		s.CreatedAt = now
		s.UpdatedAt = now
		s.Version = 1
		s.History = nil
		doc := toDoc(s)
		if _, err := m.sessions.InsertOne(ctx, doc); err != nil {
			return fmt.Errorf("store: insert session: %w", err)
		}
		return m.upsertHash(ctx, s.SessionID, s.AggregatedData)
	}

	s.UpdatedAt = now
	s.Version++
	entry := HistoryEntry{Iteration: iteration, Timestamp: now, Data: s.AggregatedData.Clone()}
	s.History = append(s.History, entry)

	update := bson.M{
		"$set": bson.M{
			"updated_at":        s.UpdatedAt,
			"status":            s.Status,
			"current_iteration": s.CurrentIteration,
			"data": sessionBody{
				UserQuery:         s.UserQuery,
				SystemInstruction: s.SystemInstruction,
				Settings:          s.Settings,
				Status:            s.Status,
				CreatedAt:         s.CreatedAt,
				UpdatedAt:         s.UpdatedAt,
				EndTime:           s.EndTime,
				CurrentIteration:  s.CurrentIteration,
				AggregatedData:    s.AggregatedData,
				LastError:         s.LastError,
			},
			"last_error": s.LastError,
			"version":    s.Version,
		},
		"$push": bson.M{"history": historyDoc{Iteration: entry.Iteration, Timestamp: entry.Timestamp, Data: entry.Data}},
	}
	res, err := m.sessions.UpdateOne(ctx, bson.M{"_id": s.SessionID}, update)
	if err != nil {
		return fmt.Errorf("store: update session: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return m.upsertHash(ctx, s.SessionID, s.AggregatedData)
}

// Load implements Store.Load.
func (m *MongoStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	var doc sessionDoc
	if err := m.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: load: %w", err)
	}
	sess := toSession(doc)

	var hd hashDoc
	err := m.hashes.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&hd)
	switch {
	case err == mongo.ErrNoDocuments:
		sess.IntegrityOK = false
	case err != nil:
		return nil, fmt.Errorf("store: load hash: %w", err)
	default:
		want, hashErr := computeIntegrityHash(sess.AggregatedData)
		if hashErr != nil {
			return nil, fmt.Errorf("store: recompute hash: %w", hashErr)
		}
		sess.IntegrityOK = want == hd.SessionHash
		if !sess.IntegrityOK {
			log.Warn().Str("session_id", sessionID).Msg("store: integrity hash mismatch on load")
			m.markExcluded(sessionID)
		}
	}
	return sess, nil
}

func (m *MongoStore) markExcluded(sessionID string) {
	m.mu.Lock()
	m.excluded[sessionID] = true
	m.mu.Unlock()
}

func (m *MongoStore) isExcluded(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.excluded[sessionID]
}

// List implements Store.List.
func (m *MongoStore) List(ctx context.Context, userID string) ([]Summary, error) {
	filter := bson.M{}
	if userID != "" {
		filter["user_id"] = userID
	}
	cur, err := m.sessions.Find(ctx, filter, options.Find().SetSort(bson.M{"created_at": 1}))
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer cur.Close(ctx)

	var out []Summary
	for cur.Next(ctx) {
		var doc sessionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("store: list decode: %w", err)
		}
		if m.isExcluded(doc.ID) {
			continue
		}
		status := doc.Status
		if !validStatus(status) {
			log.Warn().Str("session_id", doc.ID).Str("status", string(status)).Msg("store: unknown status, defaulting to error")
			status = StatusError
		}
		out = append(out, Summary{
			SessionID: doc.ID,
			UserQuery: doc.Data.UserQuery,
			Status:    status,
			StartTime: doc.CreatedAt,
			EndTime:   doc.Data.EndTime,
		})
	}
	return out, cur.Err()
}

func validStatus(s SessionStatus) bool {
	switch s {
	case StatusInit, StatusRunning, StatusCompleted, StatusInterrupted, StatusError:
		return true
	}
	return false
}

// Delete implements Store.Delete.
func (m *MongoStore) Delete(ctx context.Context, sessionID string) error {
	res, err := m.sessions.DeleteOne(ctx, bson.M{"_id": sessionID})
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	if _, err := m.hashes.DeleteOne(ctx, bson.M{"session_id": sessionID}); err != nil {
		return fmt.Errorf("store: delete hash: %w", err)
	}
	m.mu.Lock()
	delete(m.excluded, sessionID)
	m.mu.Unlock()
	return nil
}

// Resume implements Store.Resume: it returns the latest snapshot verbatim.
// Starting a new research loop from it is the caller's responsibility — it
// never replays a partially completed iteration.
func (m *MongoStore) Resume(ctx context.Context, sessionID string) (*Session, error) {
	return m.Load(ctx, sessionID)
}

// History implements Store.History.
func (m *MongoStore) History(ctx context.Context, sessionID string) ([]HistoryEntry, error) {
	var doc sessionDoc
	if err := m.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: history: %w", err)
	}
	out := make([]HistoryEntry, 0, len(doc.History))
	for _, h := range doc.History {
		out = append(out, HistoryEntry{Iteration: h.Iteration, Timestamp: h.Timestamp, Data: h.Data})
	}
	return out, nil
}

// Rollback implements Store.Rollback: it finds the latest history entry at
// targetIteration, overwrites data and current_iteration from it, and
// recomputes the integrity hash.
func (m *MongoStore) Rollback(ctx context.Context, sessionID string, targetIteration int) (*Session, error) {
	var doc sessionDoc
	if err := m.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: rollback: %w", err)
	}
	var target *historyDoc
	for i := len(doc.History) - 1; i >= 0; i-- {
		if doc.History[i].Iteration == targetIteration {
			target = &doc.History[i]
			break
		}
	}
	if target == nil {
		return nil, ErrRollbackTarget
	}

	now := time.Now().UTC()
	doc.Data.AggregatedData = target.Data
	doc.Data.CurrentIteration = targetIteration
	doc.Data.Status = StatusRunning
	doc.Data.UpdatedAt = now
	doc.CurrentIteration = targetIteration
	doc.Status = StatusRunning
	doc.UpdatedAt = now
	doc.Version++

	update := bson.M{"$set": bson.M{
		"updated_at":        doc.UpdatedAt,
		"status":            doc.Status,
		"current_iteration": doc.CurrentIteration,
		"data":              doc.Data,
		"version":           doc.Version,
	}}
	if _, err := m.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, update); err != nil {
		return nil, fmt.Errorf("store: rollback update: %w", err)
	}
	if err := m.upsertHash(ctx, sessionID, doc.Data.AggregatedData); err != nil {
		return nil, fmt.Errorf("store: rollback hash: %w", err)
	}
	m.mu.Lock()
	delete(m.excluded, sessionID)
	m.mu.Unlock()
	return toSession(doc), nil
}

// VerifyIntegrity scans every session at startup, recomputing each hash and
// comparing it to the stored one. Mismatches are logged and excluded from
// List's summary cache; they remain loadable via Load. This is advisory —
// it never blocks or fails startup.
func (m *MongoStore) VerifyIntegrity(ctx context.Context) error {
	cur, err := m.sessions.Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("store: integrity scan: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc sessionDoc
		if err := cur.Decode(&doc); err != nil {
			log.Warn().Err(err).Msg("store: integrity scan decode failed")
			continue
		}
		var hd hashDoc
		err := m.hashes.FindOne(ctx, bson.M{"session_id": doc.ID}).Decode(&hd)
		if err != nil {
			log.Warn().Str("session_id", doc.ID).Msg("store: integrity scan found no hash record")
			m.markExcluded(doc.ID)
			continue
		}
		want, err := computeIntegrityHash(doc.Data.AggregatedData)
		if err != nil {
			log.Warn().Err(err).Str("session_id", doc.ID).Msg("store: integrity scan hash compute failed")
			continue
		}
		if want != hd.SessionHash {
			log.Warn().Str("session_id", doc.ID).Msg("store: integrity scan found hash mismatch")
			m.markExcluded(doc.ID)
		}
	}
	return cur.Err()
}

var _ Store = (*MongoStore)(nil)
