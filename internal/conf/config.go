package conf

// Bootstrap 全局配置
type Bootstrap struct {
	ConfigDir    string `toml:"-" json:"-"`
	ConfigPath   string `toml:"-" json:"-"`
	BuildVersion string `toml:"-" json:"-"`

	Server    Server    `toml:"server" json:"server"`
	Log       Log       `toml:"log" json:"log"`
	Data      Data      `toml:"data" json:"data"`
	Capture   Capture   `toml:"capture" json:"capture"`
	Mocap     Mocap     `toml:"mocap" json:"mocap"`
	Replay    Replay    `toml:"replay" json:"replay"`
	Retention Retention `toml:"retention" json:"retention"`
}

type Server struct {
	Debug bool       `toml:"debug" json:"debug" comment:"debug 模式下日志以文本格式输出"`
	HTTP  ServerHTTP `toml:"http" json:"http"`
}

type ServerHTTP struct {
	Port    int      `toml:"port" json:"port" comment:"控制接口端口"`
	Timeout Duration `toml:"timeout" json:"timeout" comment:"请求超时"`
}

type Log struct {
	Dir    string   `toml:"dir" json:"dir" comment:"日志目录，相对于工作目录"`
	Level  string   `toml:"level" json:"level" comment:"debug | info | warn | error"`
	MaxAge Duration `toml:"max_age" json:"max_age" comment:"日志保留时长"`
}

type Data struct {
	Database Database `toml:"database" json:"database"`
}

type Database struct {
	Dsn             string   `toml:"dsn" json:"dsn" comment:"以 postgres 或 mysql 开头时使用对应驱动，否则为 sqlite 文件路径"`
	MaxIdleConns    int32    `toml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int32    `toml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime" json:"conn_max_lifetime"`
	SlowThreshold   Duration `toml:"slow_threshold" json:"slow_threshold"`
}

// Capture 位姿采集
type Capture struct {
	DataDir           string   `toml:"data_dir" json:"data_dir" comment:"会话目录根路径"`
	SampleInterval    Duration `toml:"sample_interval" json:"sample_interval" comment:"周期采样间隔"`
	MaxCatchUp        int      `toml:"max_catch_up" json:"max_catch_up" comment:"单帧最多补采次数"`
	BufferCapacity    int      `toml:"buffer_capacity" json:"buffer_capacity" comment:"单个缓冲的帧数"`
	MaxPendingBuffers int      `toml:"max_pending_buffers" json:"max_pending_buffers" comment:"写线程落后时最多排队的缓冲数，超出后丢弃"`
	FlushInterval     Duration `toml:"flush_interval" json:"flush_interval"`
	WriteBinary       bool     `toml:"write_binary" json:"write_binary" comment:"同时写出 *_XRI.bin"`
	FrameRate         int      `toml:"frame_rate" json:"frame_rate" comment:"内置帧循环频率，0 表示由宿主引擎驱动"`
	DropLogInterval   Duration `toml:"drop_log_interval" json:"drop_log_interval" comment:"丢帧告警最小间隔"`
}

// Mocap 动捕服务
type Mocap struct {
	Enabled        bool     `toml:"enabled" json:"enabled"`
	Host           string   `toml:"host" json:"host"`
	Port           int      `toml:"port" json:"port"`
	BoneCount      int      `toml:"bone_count" json:"bone_count"`
	RingCapacity   int      `toml:"ring_capacity" json:"ring_capacity"`
	DialTimeout    Duration `toml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout    Duration `toml:"read_timeout" json:"read_timeout"`
	RetryDelay     Duration `toml:"retry_delay" json:"retry_delay"`
	MaxRetryDelay  Duration `toml:"max_retry_delay" json:"max_retry_delay"`
	MaxRetries     int      `toml:"max_retries" json:"max_retries" comment:"连续失败次数上限，0 表示无限重试"`
	SampleInterval Duration `toml:"sample_interval" json:"sample_interval" comment:"动捕服务推流间隔，回放冻结阈值据此计算"`
	StaleTimeout   Duration `toml:"stale_timeout" json:"stale_timeout"`
}

// Replay 回放
type Replay struct {
	PoseFreezeThreshold Duration `toml:"pose_freeze_threshold" json:"pose_freeze_threshold" comment:"位姿样本间隔超过该值时不插值"`
	MotionFreezeFactor  float64  `toml:"motion_freeze_factor" json:"motion_freeze_factor" comment:"动捕冻结阈值 = mocap.sample_interval × factor"`
}

// MotionFreeze 动捕流冻结阈值
func (r Replay) MotionFreeze(sampleInterval Duration) Duration {
	return Duration(float64(sampleInterval) * r.MotionFreezeFactor)
}

// Retention 会话数据清理
type Retention struct {
	RetainDays         int      `toml:"retain_days" json:"retain_days" comment:"保留天数，0 表示不按时间清理"`
	DiskUsageThreshold float64  `toml:"disk_usage_threshold" json:"disk_usage_threshold" comment:"磁盘使用率百分比，超过时拒绝开始新会话并清理最旧会话"`
	Interval           Duration `toml:"interval" json:"interval"`
}
