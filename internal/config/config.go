package config

type Config struct {
	Rest     Rest
	Redis    Redis
	Audio    Audio
	Github   Github
	Presence Presence
}

type Rest struct {
	Address           string `envconfig:"ADDRESS" default:":3000"`
	ReadTimeout       int64  `envconfig:"READ_TIMEOUT" default:"15"`
	WriteTimeout      int64  `envconfig:"WRITE_TIMEOUT" default:"15"`
	ReadHeaderTimeout int64  `envconfig:"READ_HEADER_TIMEOUT" default:"5"`
	IdleTimeout       int64  `envconfig:"IDLE_TIMEOUT" default:"60"`
}

type Redis struct {
	URL string `envconfig:"REDIS_URL" default:"redis://localhost:6379"`

	// Transport backend: "broker" for pub/sub fan-out, "docstore" for
	// polled full-document snapshots.
	Backend      string `envconfig:"TRANSPORT_BACKEND" default:"broker"`
	PollInterval int64  `envconfig:"DOCSTORE_POLL_MS" default:"1000"`
}

type Audio struct {
	Dir string `envconfig:"AUDIO_DIR" default:"./audio"`
}

type Github struct {
	Owner  string `envconfig:"GITHUB_OWNER"`
	Repo   string `envconfig:"GITHUB_REPO"`
	Branch string `envconfig:"GITHUB_BRANCH" default:"main"`
	Path   string `envconfig:"GITHUB_PATH" default:"audio"`
}

type Presence struct {
	SweepSeconds int64 `envconfig:"PRESENCE_SWEEP_SECONDS" default:"15"`
	StaleSeconds int64 `envconfig:"PRESENCE_STALE_SECONDS" default:"30"`

	RoomCleanupMinutes int64 `envconfig:"ROOM_CLEANUP_MINUTES" default:"1"`
	RoomIdleMinutes    int64 `envconfig:"ROOM_IDLE_MINUTES" default:"5"`
}
