// Package bulletin publishes what the reconfiguration loop does to Redis so
// that dashboards, loggers and other processes can follow a running program.
//
// # Records
//
// A Reconfiguration is written every time a new configuration leaves the
// pipeline. A Divergence is written when a run stops because the model and
// the running program disagree. Each record gets a UUID and a creation
// timestamp in milliseconds.
//
// # Redis Schema
//
// Keys and channels are namespaced by instance name so several programs can
// share one Redis server:
//
//	fmbp:{instance}:config               hash, latest reconfiguration
//	fmbp:{instance}:divergence           hash, latest divergence
//	fmbp:{instance}:history              sorted set, every reconfiguration
//	fmbp:{instance}:reconfig_events      channel, reconfiguration JSON
//	fmbp:{instance}:divergence_events    channel, divergence JSON
//
// Hash fields holding maps or lists are JSON-encoded.
//
// # Usage Example
//
//	client, err := bulletin.NewClient(&redis.Options{Addr: "localhost:6379"}, "tank-1")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	sub, err := client.SubscribeReconfigurations(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sub.Close()
//
//	for r := range sub.Events() {
//		fmt.Println(r.Config)
//	}
package bulletin
