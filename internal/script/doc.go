// Package script hosts JavaScript programs that query the shared SQLite
// session.
//
// Every run gets a private goja runtime with these globals installed:
//
//	SQLite.execute(sql, ...params)     // last-inserted-row id
//	SQLite.query(sql, ...params)       // array of objects, keys in column order
//	SQLite.query_tuple(sql, ...params) // array of arrays
//	SQLite.query_one(sql, ...params)   // first object, throws "Not found"
//	SQLite.last_id()                   // last-inserted-row id
//	db                                 // same functions as SQLite
//	me()                               // caller principal as a Uint8Array
//
// Parameters bind positionally to ? placeholders. null and undefined bind
// as NULL, booleans as 1/0, numbers as integer or real, strings as text and
// Uint8Array or ArrayBuffer as blob. Any other argument throws, naming its
// position. Database failures are thrown as catchable errors; they never
// abort the host.
//
// Result cells decode to null, number, string or a fresh Uint8Array.
// Integers keep their full 64-bit value as far as a JavaScript number can
// represent it.
package script
