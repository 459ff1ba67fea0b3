package mocap

// Status 动捕流连接状态
type Status int32

const (
	StatusIdle Status = iota
	StatusConnecting
	// StatusMappingPending 已连接，尚未收到足够节点推断骨骼映射
	StatusMappingPending
	StatusStreaming
	StatusDisconnected
	// StatusError 重连次数耗尽，终态
	StatusError
	StatusStopped
)

var statusNames = [...]string{
	StatusIdle:           "idle",
	StatusConnecting:     "connecting",
	StatusMappingPending: "mapping_pending",
	StatusStreaming:      "streaming",
	StatusDisconnected:   "disconnected",
	StatusError:          "error",
	StatusStopped:        "stopped",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// MarshalText 诊断接口输出名称
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal 是否为终态
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusStopped
}
