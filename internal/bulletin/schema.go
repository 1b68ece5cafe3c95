package bulletin

import "fmt"

// ConfigKey returns the hash holding the latest reconfiguration.
// Pattern: fmbp:{instance_name}:config
func ConfigKey(instanceName string) string {
	return fmt.Sprintf("fmbp:%s:config", instanceName)
}

// DivergenceKey returns the hash holding the latest divergence.
// Pattern: fmbp:{instance_name}:divergence
func DivergenceKey(instanceName string) string {
	return fmt.Sprintf("fmbp:%s:divergence", instanceName)
}

// HistoryKey returns the sorted set of all reconfigurations, scored by
// creation time in milliseconds.
// Pattern: fmbp:{instance_name}:history
func HistoryKey(instanceName string) string {
	return fmt.Sprintf("fmbp:%s:history", instanceName)
}

// ReconfigEventsChannel returns the Pub/Sub channel for reconfigurations.
// Pattern: fmbp:{instance_name}:reconfig_events
func ReconfigEventsChannel(instanceName string) string {
	return fmt.Sprintf("fmbp:%s:reconfig_events", instanceName)
}

// DivergenceEventsChannel returns the Pub/Sub channel for divergences.
// Pattern: fmbp:{instance_name}:divergence_events
func DivergenceEventsChannel(instanceName string) string {
	return fmt.Sprintf("fmbp:%s:divergence_events", instanceName)
}
