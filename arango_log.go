package txbtree

import (
	"context"
	"strconv"
	"sync/atomic"

	"txbtree/common"

	driver "github.com/arangodb/go-driver"
	"github.com/arangodb/go-driver/http"
	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
)

// arangoEntryDoc -- one log entry, keyed by its LSN in decimal. The driver
// encodes Entry as base64.
type arangoEntryDoc struct {
	Key   string `json:"_key"`
	Entry []byte `json:"entry"`
}

// arangoMetaDoc -- records where LSN assignment resumes after a reopen. It is
// read back as a generic document and decoded with Decode.
type arangoMetaDoc struct {
	Key     string `json:"_key" mapstructure:"_key"`
	NextLSN uint64 `json:"next_lsn" mapstructure:"next_lsn"`
}

const arangoMetaKey = "meta"

// ArangoLog -- log manager storing entries as documents of an ArangoDB
// collection. A second collection, named after the first with a "_meta"
// suffix, holds the meta document.
type ArangoLog struct {
	endpoint string
	db       driver.Database
	entries  driver.Collection
	meta     driver.Collection
	nextLSN  atomic.Uint64
}

// NewArangoLog -- connect to endpoint, creating the database dbName and the
// collections the log needs when they are missing.
func NewArangoLog(endpoint string, dbName, userName, passwd string,
	cName string) (*ArangoLog, error) {

	ctx := context.Background()
	db, err := openArangoDatabase(ctx, endpoint, dbName, userName, passwd)
	if err != nil {
		return nil, err
	}
	l := &ArangoLog{endpoint: endpoint, db: db}
	if l.entries, err = ensureArangoCollection(ctx, db, cName); err != nil {
		return nil, err
	}
	if l.meta, err = ensureArangoCollection(ctx, db, cName+"_meta"); err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	_, err = l.meta.ReadDocument(ctx, arangoMetaKey, &raw)
	switch {
	case driver.IsNotFound(err):
		l.nextLSN.Store(1)
		glog.Infof("starting a new log in %s/%s", dbName, cName)
	case err != nil:
		return nil, errors.Wrapf(err, "reading log meta from %s", cName)
	default:
		var m arangoMetaDoc
		if err := Decode(raw, &m); err != nil {
			return nil, errors.Wrap(err, "decoding log meta")
		}
		if m.NextLSN == 0 {
			m.NextLSN = 1
		}
		l.nextLSN.Store(m.NextLSN)
		glog.Infof("reopened log %s/%s, next lsn %d", dbName, cName, m.NextLSN)
	}
	return l, nil
}

func openArangoDatabase(ctx context.Context, endpoint, dbName, userName,
	passwd string) (driver.Database, error) {

	conn, err := http.NewConnection(http.ConnectionConfig{
		Endpoints: []string{endpoint},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", endpoint)
	}
	client, err := driver.NewClient(driver.ClientConfig{
		Connection:     conn,
		Authentication: driver.BasicAuthentication(userName, passwd),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating client for %s", endpoint)
	}
	exists, err := client.DatabaseExists(ctx, dbName)
	if err != nil {
		return nil, errors.Wrapf(err, "checking database %s", dbName)
	}
	if !exists {
		glog.Infof("creating database %s on %s", dbName, endpoint)
		return client.CreateDatabase(ctx, dbName, nil)
	}
	return client.Database(ctx, dbName)
}

func ensureArangoCollection(ctx context.Context, db driver.Database,
	name string) (driver.Collection, error) {

	exists, err := db.CollectionExists(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "checking collection %s", name)
	}
	if exists {
		return db.Collection(ctx, name)
	}
	col, err := db.CreateCollection(ctx, name, &driver.CreateCollectionOptions{
		WaitForSync:       true,
		ReplicationFactor: 1,
		NumberOfShards:    1,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating collection %s", name)
	}
	glog.Infof("created collection %s", name)
	return col, nil
}

func arangoLSNKey(lsn common.LSN) string {
	return strconv.FormatUint(uint64(lsn), 10)
}

// Append -- LSNs are handed out locally; the document write waits for sync.
func (l *ArangoLog) Append(entry []byte) (common.LSN, error) {
	lsn := common.LSN(l.nextLSN.Add(1) - 1)
	ctx := driver.WithWaitForSync(context.Background())
	doc := arangoEntryDoc{Key: arangoLSNKey(lsn), Entry: entry}
	if _, err := l.entries.CreateDocument(ctx, doc); err != nil {
		return common.NullLSN, err
	}
	glog.V(2).Infof("appended lsn %d to %s", lsn, l.entries.Name())
	return lsn, nil
}

func (l *ArangoLog) Read(lsn common.LSN) ([]byte, error) {
	var doc arangoEntryDoc
	if _, err := l.entries.ReadDocument(context.Background(), arangoLSNKey(lsn), &doc); err != nil {
		if driver.IsNotFound(err) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	return doc.Entry, nil
}

// Delete -- deleting an absent entry is not an error.
func (l *ArangoLog) Delete(lsn common.LSN) error {
	ctx := driver.WithWaitForSync(context.Background())
	if _, err := l.entries.RemoveDocument(ctx, arangoLSNKey(lsn)); err != nil && !driver.IsNotFound(err) {
		return err
	}
	return nil
}

func (l *ArangoLog) Flush() error {
	return nil
}

// Close -- persist the next LSN so a reopen does not reuse keys.
func (l *ArangoLog) Close() error {
	ctx := driver.WithWaitForSync(context.Background())
	doc := arangoMetaDoc{Key: arangoMetaKey, NextLSN: l.nextLSN.Load()}
	exists, err := l.meta.DocumentExists(ctx, arangoMetaKey)
	if err != nil {
		return err
	}
	if exists {
		_, err = l.meta.ReplaceDocument(ctx, arangoMetaKey, doc)
	} else {
		_, err = l.meta.CreateDocument(ctx, doc)
	}
	return errors.Wrapf(err, "saving log meta to %s", l.meta.Name())
}

// DropCollections -- remove both collections of the log. Used to clean up
// after tests.
func (l *ArangoLog) DropCollections() error {
	ctx := context.Background()
	for _, col := range []driver.Collection{l.entries, l.meta} {
		if err := col.Remove(ctx); err != nil && !driver.IsNotFound(err) {
			return errors.Wrapf(err, "dropping %s", col.Name())
		}
	}
	return nil
}

func (l *ArangoLog) Policy() string {
	return common.LogPolicyADB
}
