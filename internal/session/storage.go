package session

// StorageKey is the well-known name the credential is persisted under.
const StorageKey = "jwt"

// CredentialStorage is the persistent slot holding the raw credential.
type CredentialStorage interface {
	Load() (string, bool)
	Clear()
}

// Redirector performs the navigation side effect towards the login route.
type Redirector interface {
	Redirect(target string)
}
