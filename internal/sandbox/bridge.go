package sandbox

// AppSummary is one installed user app as the management surface
// reports it to shell-owned apps.
type AppSummary struct {
	ID      string
	Name    string
	Icon    string
	Type    string
	Version string
}

// Bridge is the app script's window onto the rest of the shell. Each
// mounted app gets its own instance, already scoped to that app, so
// sandbox code never sees ids or endpoints.
type Bridge interface {
	// Scoped storage, persisted through the app-settings endpoints.
	Setting(key string) (string, bool)
	SetSetting(key, value string) error
	RemoveSetting(key string) error
	ClearSettings() error

	// Toasts through the notification center.
	Notify(level, title, message string)

	// Virtual file access. Upload goes through the multipart endpoint,
	// which detects the content type server-side.
	VFSRead(path string) (string, error)
	VFSWrite(path, content string) error
	VFSList(path string) ([]string, error)
	VFSUpload(parent, name, content string) error

	// User-app management. Granted to shell-owned apps only; for user
	// apps every call fails.
	AppsList() ([]AppSummary, error)
	AppsInstall(filename, pkg string) error
	AppsUninstall(appID string) error
	AppsRefresh() error

	// The app's gateway socket channel.
	SocketConnect() error
	SocketSend(data string) error
	SocketDisconnect()
	SocketConnected() bool

	// Modal prompt, surfaced like a sticky notification.
	ShowModal(title, message string)

	// Scoped navigation lands here: the app asked to reload itself.
	Reload()
}

// NopBridge discards everything; used in tests and for background
// mounts that have no collaborators yet.
type NopBridge struct{}

func (NopBridge) Setting(string) (string, bool)   { return "", false }
func (NopBridge) SetSetting(string, string) error { return nil }
func (NopBridge) RemoveSetting(string) error      { return nil }
func (NopBridge) ClearSettings() error            { return nil }
func (NopBridge) Notify(string, string, string)   {}
func (NopBridge) VFSRead(string) (string, error)  { return "", nil }
func (NopBridge) VFSWrite(string, string) error   { return nil }
func (NopBridge) VFSList(string) ([]string, error) {
	return nil, nil
}
func (NopBridge) VFSUpload(string, string, string) error { return nil }
func (NopBridge) AppsList() ([]AppSummary, error)        { return nil, nil }
func (NopBridge) AppsInstall(string, string) error       { return nil }
func (NopBridge) AppsUninstall(string) error             { return nil }
func (NopBridge) AppsRefresh() error                     { return nil }
func (NopBridge) SocketConnect() error     { return nil }
func (NopBridge) SocketSend(string) error  { return nil }
func (NopBridge) SocketDisconnect()        {}
func (NopBridge) SocketConnected() bool    { return false }
func (NopBridge) ShowModal(string, string) {}
func (NopBridge) Reload()                  {}
