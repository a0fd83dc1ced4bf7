package repository

import "database/sql"

// PostgresRecordStore はPostgreSQLを使用したレコードストア。
// 一意性はPRIMARY KEYとON CONFLICT DO NOTHINGで保証する。
type PostgresRecordStore struct {
	sqlRecordStore
}

// NewPostgresRecordStore はPostgresRecordStoreを生成する。
// スキーマはdatabase.RunMigrationsで事前に作成しておくこと。
func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{sqlRecordStore{db: db, dialect: postgresDialect}}
}
