package document

// NewMemory opens an ephemeral in-memory database with a metadata store and
// a blob store over it, for tests. Caller must close the DB when done.
func NewMemory(chunkSize int) (*DB, *Store, *Blobs, error) {
	db, err := Open("", true)
	if err != nil {
		return nil, nil, nil, err
	}
	return db, NewStore(db), NewBlobs(db, chunkSize), nil
}
