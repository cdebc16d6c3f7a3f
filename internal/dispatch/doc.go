// Package dispatch runs scripts delivered over MQTT and announces every
// run on the event topic.
//
// A caller publishes a script to sqlbridge/request/{id}, either as raw
// source or as a JSON object:
//
//	{"name": "nightly", "source": "SQLite.query('SELECT 1')", "token": "<jwt>"}
//
// The Dispatcher runs it and publishes a Response to sqlbridge/response/{id}.
// The Announcer wraps any runner and publishes a RunEvent to
// sqlbridge/event/script_run after each run, whichever surface started it.
// The Requester is the other end: it publishes a Request under a fresh ID
// and waits for the matching Response.
package dispatch
