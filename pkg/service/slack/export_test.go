package slack

// Export internal functions for testing
var (
	ConvertUser    = convertUser
	IsUserNotFound = isUserNotFound
)
