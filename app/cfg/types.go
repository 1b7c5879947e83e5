package cfg

type Cfg struct {
	// Database configuration
	DBPath string

	// Application configuration
	ChannelsDir       string
	TypesFile         string
	Port              string
	WorkerCount       int
	SchedulerInterval int
	SweepInterval     int
	SendTimeout       int
	MaxSendAttempts   int
	APIAccessKey      string

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}
