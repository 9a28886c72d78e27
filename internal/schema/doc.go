// Package schema defines the persisted form of ingested lines and the
// structured table definition the store is built from.
//
// # Entries
//
// Every confirmed line becomes one immutable row in the entries table:
//
//	id        TEXT PRIMARY KEY   ULID, lexicographically time-sortable
//	data      TEXT NOT NULL      the line exactly as read from the file
//	cwd       TEXT NOT NULL      working directory of the ingesting process
//	filepath  TEXT NOT NULL      absolute path of the source file
//	created   INTEGER NOT NULL   unix seconds, assigned by the store
//
// Readers that group entries by session can use the expression index on
// json_extract(data, '$.sessionId'); the ingester never reads it back.
//
// # Migrations
//
// The table and its indexes are not written as free-form DDL. They are
// described as Table, Column and Index values and rendered to SQL, then
// grouped into tagged Migrations:
//
//	for _, m := range schema.Migrations() {
//	    fmt.Println(m.Tag)
//	    for _, stmt := range m.Statements {
//	        fmt.Println(stmt)
//	    }
//	}
//
// Tags are permanent. A migration that has been released must never be
// edited; add a new one with the next tag instead.
package schema
