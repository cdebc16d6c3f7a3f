// Package mqtt carries script requests, responses and run events between
// sqlbridge and remote callers over an MQTT broker.
//
// # Topics
//
// A caller publishes a script to sqlbridge/request/{id} and reads the
// answer from sqlbridge/response/{id}. Every run is summarised on
// sqlbridge/event/script_run. The bridge keeps a retained online/offline
// status on sqlbridge/system/status, with an offline will for crashes.
//
// # Usage
//
// Bridge side:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.ServeRequests(func(id string, payload []byte) error {
//	    return client.PublishResponse(id, answer(payload))
//	})
//
// Caller side:
//
//	client, err := mqtt.ConnectCaller(cfg.MQTT)
//	stop, err := client.AwaitResponse(id, func(payload []byte) { ... })
//	defer stop()
//	err = client.PublishRequest(id, request)
package mqtt
