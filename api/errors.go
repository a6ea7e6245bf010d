package api

// Server error numbers the client branches on. The server defines many more;
// only those with client-side meaning are listed.
const (
	ErrNumBadParameter          = 10
	ErrNumDocumentNotFound      = 1202
	ErrNumCollectionNotFound    = 1203
	ErrNumConflict              = 1210
	ErrNumDatabaseNotFound      = 1228
	ErrNumCursorNotFound        = 1600
	ErrNumQueryKilled           = 1500
	ErrNumQueryParse            = 1501
	ErrNumTransactionNotFound   = 1655
	ErrNumTransactionAborted    = 1654
	ErrNumClusterTimeout        = 1457
	ErrNumClusterBackendUnavail = 1478
)
