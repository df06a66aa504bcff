package entities

// Defaults applied when cassandra.yaml leaves a value unset
const (
	DefaultClusterName = "Test Cluster"
	DefaultDataDir     = "/var/lib/cassandra/data"
)

// NodeConfig is the subset of cassandra.yaml csp cares about
type NodeConfig struct {
	ClusterName         string
	DataFileDirectories []string
	CommitlogDirectory  string
	ListenAddress       string
}
