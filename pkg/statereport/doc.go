// Package statereport publishes device state transitions to an MQTT broker.
//
// A Reporter subscribes to device.StateEvents, encodes every transition as a
// compact Event and publishes it on "<scope>/device/<id>/state". Events are
// msgpack encoded by default; JSON is available for brokers inspected by
// humans.
//
//	pub, err := statereport.DialMQTT(ctx, statereport.MQTTConfig{Broker: "tcp://localhost:1883"})
//	r := statereport.New(pub, "dev-1", statereport.WithScope("lab"))
//	detach := r.Attach(events)
//	defer detach()
//	go r.Run(ctx)
package statereport
