package coach

import "time"

// Role 转写条目的说话方
type Role string

const (
	RoleUser  Role = "user"
	RoleCoach Role = "coach"
)

// Entry 一条转写记录，同一说话方的连续片段会合并到同一条
type Entry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// State 会话状态
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateClosed     State = "closed"
)

// ErrorInfo 展示给用户的错误
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Snapshot 会话的只读视图
type Snapshot struct {
	SessionID  string     `json:"sessionId"`
	State      State      `json:"state"`
	Listening  bool       `json:"listening"`
	Error      *ErrorInfo `json:"error,omitempty"`
	Transcript []Entry    `json:"transcript"`
	Stats      Stats      `json:"stats"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Stats 当前连接的计数
type Stats struct {
	ChunksSent    int `json:"chunksSent"`
	ChunksDropped int `json:"chunksDropped"`
	BuffersPlayed int `json:"buffersPlayed"`
	Interruptions int `json:"interruptions"`
	ActiveVoices  int `json:"activeVoices"`
}

// ConnectOptions 建立会话时的可选参数
type ConnectOptions struct {
	// APIKey 用户自带的密钥，为空时使用服务端配置
	APIKey string `json:"apiKey,omitempty"`
}
