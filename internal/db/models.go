package db

// CommandRecord is one executed bridge command. The API key is never stored.
type CommandRecord struct {
	ID          uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Command     string `gorm:"column:command;not null"`
	RequestedAs string `gorm:"column:requested_as;not null;default:''"`
	Success     bool   `gorm:"column:success;not null"`
	Error       string `gorm:"column:error;not null;default:''"`
	DurationMS  int64  `gorm:"column:duration_ms;not null;default:0"`
	ExecutedAt  int64  `gorm:"column:executed_at;not null"`
}

func (CommandRecord) TableName() string { return "command_history" }
