package persistence

import (
	"context"
	"time"

	_ "github.com/go-kivik/couchdb/v4" // registers the "couch" kivik driver
	"github.com/go-kivik/kivik/v4"
)

// CouchStore is an optional durable snapshot backend, properly wired
// through go-kivik's client/driver split. go-master/go.mod declared
// go-kivik/kivik and go-kivik/couchdb as dependencies but its actual
// pkg/persistence/couchdb.go talked to CouchDB over a hand-rolled
// net/http client instead — this implementation closes that gap and
// gives both declared modules a real caller.
type CouchStore struct {
	client   *kivik.Client
	db       *kivik.DB
	database string
	docID    string
}

const snapshotDocID = "master-snapshot"

func NewCouchStore(ctx context.Context, dsn, username, password, database string) (*CouchStore, error) {
	url := dsn
	if username != "" {
		url = injectAuth(dsn, username, password)
	}

	client, err := kivik.New("couch", url)
	if err != nil {
		return nil, err
	}
	return newCouchStoreFromClient(ctx, client, database)
}

// newCouchStoreFromClient does the database-provisioning work shared by
// NewCouchStore and its tests, which substitute a kivikmock client for
// the real "couch" driver to exercise database provisioning without a
// live server.
func newCouchStoreFromClient(ctx context.Context, client *kivik.Client, database string) (*CouchStore, error) {
	exists, err := client.DBExists(ctx, database)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.CreateDB(ctx, database); err != nil {
			return nil, err
		}
	}

	db := client.DB(database)
	if err := db.Err(); err != nil {
		return nil, err
	}

	return &CouchStore{client: client, db: db, database: database, docID: snapshotDocID}, nil
}

func (c *CouchStore) Save(s Snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	doc := map[string]any{
		"_id":           c.docID,
		"pending_queue": s.Pending,
		"assigned_set":  s.Assigned,
		"results":       s.Done,
		"saved_at":      s.SavedAt,
	}

	rev, err := c.currentRev(ctx)
	if err == nil && rev != "" {
		doc["_rev"] = rev
	}

	_, err = c.db.Put(ctx, c.docID, doc)
	return err
}

func (c *CouchStore) Load() (Snapshot, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	row := c.db.Get(ctx, c.docID)
	var s Snapshot
	if err := row.ScanDoc(&s); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	return s, true, nil
}

func (c *CouchStore) currentRev(ctx context.Context) (string, error) {
	row := c.db.Get(ctx, c.docID)
	var doc struct {
		Rev string `json:"_rev"`
	}
	if err := row.ScanDoc(&doc); err != nil {
		return "", err
	}
	return doc.Rev, nil
}

func injectAuth(dsn, username, password string) string {
	// kivik accepts userinfo embedded in the DSN for basic auth.
	const scheme = "http://"
	if len(dsn) > len(scheme) && dsn[:len(scheme)] == scheme {
		return scheme + username + ":" + password + "@" + dsn[len(scheme):]
	}
	return dsn
}
