package credentials

// Registration is the input for creating a password-backed user.
type Registration struct {
	Email       string
	Username    string
	DisplayName string
	Password    string
}
