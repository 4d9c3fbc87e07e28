package apps

import (
	"fmt"
	"html"
	"strings"

	"github.com/nimbusos/shell/internal/shared/types"
)

// Builtin describes a shell-provided app. Render produces the window
// body at resolve time, so every launch sees current data.
type Builtin struct {
	Manifest types.Manifest
	Render   func(r *Registry) string
}

func builtins() map[string]*Builtin {
	list := []*Builtin{
		{
			Manifest: types.Manifest{
				ID:          "user-app-manager",
				Name:        "User App Manager",
				Icon:        "fas fa-user-cog",
				Description: "Manage and discover user-created applications",
				Keywords:    []string{"user", "app", "manage", "discover", "custom"},
				Type:        types.TypeBuiltin,
			},
			Render: renderUserAppManager,
		},
		{
			Manifest: types.Manifest{
				ID:          "system-settings",
				Name:        "System Settings",
				Icon:        "fas fa-cog",
				Description: "Configure system preferences and manage OS settings",
				Keywords:    []string{"settings", "preferences", "system", "config", "options"},
				Type:        types.TypeSettings,
			},
			Render: renderSystemSettings,
		},
		{
			Manifest: types.Manifest{
				ID:          "virtual-file-system",
				Name:        "Virtual File System",
				Icon:        "fas fa-folder-open",
				Description: "Manage virtual files and folders",
				Keywords:    []string{"file", "folder", "storage", "database", "virtual"},
				Type:        types.TypeBuiltin,
			},
			Render: renderFileExplorer,
		},
		{
			Manifest: types.Manifest{
				ID:          "resource-manager",
				Name:        "Resource Manager",
				Icon:        "fas fa-tachometer-alt",
				Description: "Monitor system resources and running applications in real-time",
				Keywords:    []string{"resource", "task", "manager", "system", "monitor"},
				Type:        types.TypeBuiltin,
			},
			Render: renderResourceManager,
		},
	}

	out := make(map[string]*Builtin, len(list))
	for _, b := range list {
		out[b.Manifest.ID] = b
	}
	return out
}

func appHeader(icon, title string) string {
	return fmt.Sprintf(`<div class="app-header"><h2><i class="%s"></i> %s</h2></div>`,
		html.EscapeString(icon), html.EscapeString(title))
}

func renderUserAppManager(r *Registry) string {
	var b strings.Builder
	b.WriteString(`<div class="app-container">`)
	b.WriteString(appHeader("fas fa-user-cog", "User App Manager"))
	b.WriteString(`<div class="app-content">`)
	b.WriteString(`<div class="app-toolbar"><button id="uam-refresh" class="app-button"><i class="fas fa-sync"></i> Refresh</button></div>`)

	devApps := r.DevApps()
	if len(devApps) == 0 {
		b.WriteString(`<p class="app-empty">No user apps loaded. Drop an app directory into the dev apps folder or install a package.</p>`)
	} else {
		b.WriteString(`<ul class="app-list">`)
		for _, app := range devApps {
			version := app.Manifest.Version
			if version == "" {
				version = "1.0.0"
			}
			fmt.Fprintf(&b,
				`<li class="app-list-item"><i class="%s"></i><span class="app-list-name">%s</span><span class="app-list-meta">%s · v%s</span></li>`,
				html.EscapeString(app.Manifest.Icon),
				html.EscapeString(app.Manifest.Name),
				html.EscapeString(app.Manifest.ID),
				html.EscapeString(version))
		}
		b.WriteString(`</ul>`)
	}

	b.WriteString(`<h3 class="app-subheader">Installed apps</h3>`)
	b.WriteString(`<ul class="app-list" id="uam-installed"></ul>`)
	b.WriteString(`<div class="app-toolbar">
  <input id="uam-package" type="text" placeholder="/packages/app.napp" class="vfs-path">
  <button id="uam-install" class="app-button"><i class="fas fa-download"></i> Install</button>
</div>`)

	b.WriteString(`</div></div>`)
	b.WriteString(`<script>
var installed = getElementById("uam-installed");
var packageInput = getElementById("uam-package");

function renderInstalled() {
  installed.innerHTML = "";
  var apps = nimbus.apps.list();
  if (apps.length === 0) {
    var empty = createElement("li");
    empty.className = "app-list-item app-empty";
    empty.textContent = "No installed apps.";
    installed.appendChild(empty);
    return;
  }
  for (var i = 0; i < apps.length; i++) {
    var item = createElement("li");
    item.className = "app-list-item";
    item.textContent = apps[i].name + " (" + apps[i].id + ")";

    var remove = createElement("button");
    remove.className = "app-button app-button-danger";
    remove.textContent = "Uninstall";
    remove.dataset.id = apps[i].id;
    remove.addEventListener("click", function(ev) {
      if (nimbus.apps.uninstall(ev.target.dataset.id)) {
        nimbus.notify("info", "App removed", ev.target.dataset.id + " was uninstalled.");
        renderInstalled();
      } else {
        nimbus.notify("error", "Uninstall failed", "The backend refused the request.");
      }
    });
    item.appendChild(remove);
    installed.appendChild(item);
  }
}

getElementById("uam-install").addEventListener("click", function() {
  var path = packageInput.value;
  var pkg = nimbus.readFile(path);
  if (pkg === null) {
    nimbus.notify("error", "Install failed", "No package at " + path + ".");
    return;
  }
  var name = path.substring(path.lastIndexOf("/") + 1);
  if (nimbus.apps.install(name, pkg)) {
    nimbus.notify("info", "App installed", name + " is ready to launch.");
    renderInstalled();
  } else {
    nimbus.notify("error", "Install failed", "The backend rejected " + name + ".");
  }
});

getElementById("uam-refresh").addEventListener("click", function() {
  nimbus.apps.refresh();
  reloadApp();
});

renderInstalled();
</script>`)
	return b.String()
}

func renderSystemSettings(*Registry) string {
	return `<div class="app-container">` +
		appHeader("fas fa-cog", "System Settings") +
		`<div class="app-content">
<div class="settings-group">
  <div class="settings-row">
    <label for="set-scale">App scale (%)</label>
    <input id="set-scale" type="number" min="50" max="200" step="25" value="100">
  </div>
  <div class="settings-row">
    <label for="set-theme">Theme</label>
    <select id="set-theme">
      <option value="dark">Dark</option>
      <option value="light">Light</option>
    </select>
  </div>
  <div class="settings-row">
    <label for="set-autosave">Save window layout</label>
    <select id="set-autosave">
      <option value="on">Enabled</option>
      <option value="off">Disabled</option>
    </select>
  </div>
</div>
<div class="app-toolbar">
  <button id="set-save" class="app-button"><i class="fas fa-save"></i> Save</button>
  <button id="set-reset" class="app-button app-button-danger"><i class="fas fa-undo"></i> Reset</button>
</div>
</div></div>
<script>
var scaleInput = getElementById("set-scale");
var themeInput = getElementById("set-theme");
var autosaveInput = getElementById("set-autosave");

scaleInput.value = nimbus.getSetting("app_scale", "100");
themeInput.value = nimbus.getSetting("theme", "dark");
autosaveInput.value = nimbus.getSetting("save_layout", "on");

getElementById("set-save").addEventListener("click", function() {
  nimbus.setSetting("app_scale", scaleInput.value);
  nimbus.setSetting("theme", themeInput.value);
  nimbus.setSetting("save_layout", autosaveInput.value);
  nimbus.notify("info", "Settings saved", "Preferences were stored.");
});

getElementById("set-reset").addEventListener("click", function() {
  nimbus.removeSetting("app_scale");
  nimbus.removeSetting("theme");
  nimbus.removeSetting("save_layout");
  reloadApp();
});
</script>`
}

func renderFileExplorer(*Registry) string {
	return `<div class="app-container">` +
		appHeader("fas fa-folder-open", "Virtual File System") +
		`<div class="app-content">
<div class="app-toolbar">
  <input id="vfs-path" type="text" value="/" class="vfs-path">
  <button id="vfs-go" class="app-button"><i class="fas fa-arrow-right"></i> Open</button>
  <button id="vfs-up" class="app-button"><i class="fas fa-level-up-alt"></i> Up</button>
  <input id="vfs-newname" type="text" placeholder="file name" class="vfs-path">
  <button id="vfs-new" class="app-button"><i class="fas fa-file-medical"></i> New file</button>
</div>
<ul class="app-list" id="vfs-entries"></ul>
<pre id="vfs-preview" class="vfs-preview"></pre>
</div></div>
<script>
var pathInput = getElementById("vfs-path");
var entries = getElementById("vfs-entries");
var preview = getElementById("vfs-preview");

function renderEntries(names) {
  entries.innerHTML = "";
  if (names.length === 0) {
    var empty = createElement("li");
    empty.className = "app-list-item app-empty";
    empty.textContent = "(empty)";
    entries.appendChild(empty);
    return;
  }
  for (var i = 0; i < names.length; i++) {
    var item = createElement("li");
    item.className = "app-list-item";
    item.textContent = names[i];
    item.dataset.name = names[i];
    item.addEventListener("click", function(ev) {
      openEntry(ev.target.dataset.name);
    });
    entries.appendChild(item);
  }
}

function joinPath(dir, name) {
  if (dir === "/") return "/" + name;
  return dir + "/" + name;
}

function browse(path) {
  pathInput.value = path;
  preview.textContent = "";
  renderEntries(nimbus.listFiles(path));
}

function openEntry(name) {
  var full = joinPath(pathInput.value, name);
  var content = nimbus.readFile(full);
  if (content === null) {
    browse(full);
    return;
  }
  preview.textContent = content;
}

getElementById("vfs-go").addEventListener("click", function() {
  browse(pathInput.value);
});

getElementById("vfs-up").addEventListener("click", function() {
  var path = pathInput.value;
  var idx = path.lastIndexOf("/");
  browse(idx <= 0 ? "/" : path.substring(0, idx));
});

getElementById("vfs-new").addEventListener("click", function() {
  var name = getElementById("vfs-newname").value;
  if (name === "") {
    nimbus.notify("warning", "No file name", "Enter a name for the new file.");
    return;
  }
  if (nimbus.uploadFile(pathInput.value, name, "")) {
    browse(pathInput.value);
  } else {
    nimbus.notify("error", "Create failed", "Could not create " + name + ".");
  }
});

browse("/");
</script>`
}

func renderResourceManager(r *Registry) string {
	var b strings.Builder
	b.WriteString(`<div class="app-container">`)
	b.WriteString(appHeader("fas fa-tachometer-alt", "Resource Manager"))
	b.WriteString(`<div class="app-content">`)
	b.WriteString(`<div class="app-toolbar"><button id="rm-refresh" class="app-button"><i class="fas fa-sync"></i> Refresh</button></div>`)

	monitor := r.monitorRef()
	if monitor == nil {
		b.WriteString(`<p class="app-empty">Window manager not attached.</p>`)
	} else {
		usage := make(map[string][2]int)
		for _, res := range monitor.Resources() {
			usage[res.AppID] = [2]int{res.Timers, res.Listeners}
		}

		b.WriteString(`<table class="app-table"><thead><tr><th>App</th><th>State</th><th>Timers</th><th>Listeners</th></tr></thead><tbody>`)
		wins := monitor.Windows()
		for _, w := range wins {
			state := "open"
			switch {
			case w.Background:
				state = "background"
			case w.Maximized:
				state = "maximized"
			case w.Minimized:
				state = "minimized"
			case w.Active:
				state = "focused"
			}
			counts := usage[w.AppID]
			fmt.Fprintf(&b,
				`<tr><td><i class="%s"></i> %s</td><td>%s</td><td>%d</td><td>%d</td></tr>`,
				html.EscapeString(w.Icon), html.EscapeString(w.Title), state, counts[0], counts[1])
		}
		if len(wins) == 0 {
			b.WriteString(`<tr><td colspan="4" class="app-empty">No running applications.</td></tr>`)
		}
		b.WriteString(`</tbody></table>`)
	}

	b.WriteString(`</div></div>`)
	b.WriteString(`<script>
getElementById("rm-refresh").addEventListener("click", function() {
  reloadApp();
});
</script>`)
	return b.String()
}
