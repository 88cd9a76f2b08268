package record

const (
	defaultTargetReplicas = 1
	defaultMaxGap         = 64
)

// Options configures newly created and imported records.
type Options struct {
	// TargetReplicas is the desired number of REPLICA peerings per record.
	TargetReplicas int
	// MaxGap is the largest distance between the next expected sequence
	// number and a buffered memo. It also bounds the number of buffered memos.
	MaxGap uint64
}

// DefaultOptions returns the default record options.
func DefaultOptions() Options {
	return Options{
		TargetReplicas: defaultTargetReplicas,
		MaxGap:         defaultMaxGap,
	}
}

// withDefaults replaces unset fields with their defaults.
func (o Options) withDefaults() Options {
	if o.TargetReplicas < 0 {
		o.TargetReplicas = defaultTargetReplicas
	}
	if o.MaxGap == 0 {
		o.MaxGap = defaultMaxGap
	}
	return o
}
