package domain

// PasswordContext carries account attributes a strength policy should penalise when reused in a password.
type PasswordContext struct {
	Email string
	Name  string
}
