package repository

import "database/sql"

// SQLiteRecordStore は単一ファイルのSQLiteを使用したレコードストア。
// クエリはPostgresRecordStoreと共有し、プレースホルダのみ変換する。
type SQLiteRecordStore struct {
	sqlRecordStore
}

// NewSQLiteRecordStore はSQLiteRecordStoreを生成する。
// dbはdatabase.Open(database.DriverSQLite, path)で開いたものを渡す。
func NewSQLiteRecordStore(db *sql.DB) *SQLiteRecordStore {
	return &SQLiteRecordStore{sqlRecordStore{db: db, dialect: sqliteDialect}}
}
