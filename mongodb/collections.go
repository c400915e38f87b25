package mongodb

const (
	ToolsCollection        = "tools"
	UsersCollection        = "users"
	ActivityLogsCollection = "activity_logs"
)
