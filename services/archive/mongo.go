// Package archive persists refresh-cycle stats to MongoDB when configured.
// Purely observational: failures are logged and never affect the engine.
package archive

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"screener_engine/services/merge"
)

const (
	databaseName         = "screener_engine"
	cycleStatsCollection = "cycle_stats"
	connectTimeout       = 10 * time.Second
	writeDeadline        = 5 * time.Second
)

// CycleStatsDoc is the archived form of one cycle's stats.
type CycleStatsDoc struct {
	Loop       string    `bson:"loop"`
	Claimed    int       `bson:"claimed"`
	Merged     int       `bson:"merged"`
	Failed     int       `bson:"failed"`
	DurationMs int64     `bson:"duration_ms"`
	At         time.Time `bson:"at"`
	ArchivedAt time.Time `bson:"archived_at"`
}

// Archive is an optional MongoDB sink for cycle stats. A nil or
// unconfigured Archive silently drops everything.
type Archive struct {
	client  *mongo.Client
	enabled bool
}

// NewArchive connects to MongoDB when uri is set; otherwise returns a
// disabled archive.
func NewArchive(uri string) *Archive {
	if uri == "" {
		log.Println("MONGODB_URI not set, cycle-stats archive disabled")
		return &Archive{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		log.Printf("Cycle-stats archive disabled, MongoDB connect failed: %v", err)
		return &Archive{}
	}
	if err := client.Ping(ctx, nil); err != nil {
		log.Printf("Cycle-stats archive disabled, MongoDB ping failed: %v", err)
		return &Archive{}
	}

	log.Println("Cycle-stats archive connected")
	return &Archive{client: client, enabled: true}
}

// Enabled reports whether the archive is writing.
func (a *Archive) Enabled() bool {
	return a != nil && a.enabled
}

// SaveCycleStats archives one cycle's stats. Best-effort.
func (a *Archive) SaveCycleStats(stats merge.CycleStats) {
	if !a.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeDeadline)
	defer cancel()

	doc := CycleStatsDoc{
		Loop:       stats.Loop,
		Claimed:    stats.Claimed,
		Merged:     stats.Merged,
		Failed:     stats.Failed,
		DurationMs: stats.Duration.Milliseconds(),
		At:         stats.At,
		ArchivedAt: time.Now(),
	}
	coll := a.client.Database(databaseName).Collection(cycleStatsCollection)
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		log.Printf("Failed to archive cycle stats: %v", err)
	}
}

// Close disconnects from MongoDB.
func (a *Archive) Close() {
	if !a.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := a.client.Disconnect(ctx); err != nil {
		log.Printf("MongoDB disconnect error: %v", err)
	}
}
