package mqtt

import "strings"

// Topic layout:
//
//	sqlbridge/request/{id}     script sources to run (inbound)
//	sqlbridge/response/{id}    run result for the matching request
//	sqlbridge/event/{type}     run summaries
//	sqlbridge/system/status    retained online/offline status, also the will
const (
	topicRoot = "sqlbridge"

	requestPrefix  = topicRoot + "/request/"
	responsePrefix = topicRoot + "/response/"
	eventPrefix    = topicRoot + "/event/"

	// requestFilter matches every request ID.
	requestFilter = requestPrefix + "+"

	statusTopic = topicRoot + "/system/status"
)

// EventScriptRun is the event type published after every run.
const EventScriptRun = "script_run"

func requestTopic(id string) string  { return requestPrefix + id }
func responseTopic(id string) string { return responsePrefix + id }
func eventTopic(kind string) string  { return eventPrefix + kind }

// validSegment reports whether s can stand as one topic level: non-empty
// and free of separators and wildcards.
func validSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#")
}

// requestID extracts the ID from a request topic.
func requestID(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, requestPrefix)
	if !ok || !validSegment(id) {
		return "", false
	}
	return id, true
}
