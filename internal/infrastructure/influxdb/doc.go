// Package influxdb records recognition metrics in InfluxDB v2.
//
// Each recognition becomes an anpr_recognition point and each trigger
// result an anpr_trigger point, so read rates, reliability and trigger
// expiry can be charted per camera while the simulator drives a client
// under test.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteRecognition(influxdb.Recognition{CameraID: "0", Plate: "AB123CD", Reliability: 80})
//
// Writes are non-blocking and batched (batch_size, flush_interval).
// Asynchronous write failures are delivered to the SetOnError callback.
package influxdb
