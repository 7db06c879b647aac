package server

import (
	"html/template"

	"github.com/go-training/workspace-mcp/pkg/oauth"
)

const loginTemplateName = "login.html"

var loginTemplate = template.Must(template.New(loginTemplateName).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sign in to the workspace</title>
<style>
body { font-family: system-ui, sans-serif; background: #f4f5f7; margin: 0; }
main { max-width: 22rem; margin: 8vh auto; background: #fff; padding: 2rem; border-radius: 8px; box-shadow: 0 1px 4px rgba(0,0,0,.15); }
h1 { font-size: 1.25rem; margin-top: 0; }
label { display: block; margin-top: 1rem; font-size: .9rem; }
input[type=text], input[type=password] { width: 100%; box-sizing: border-box; padding: .5rem; margin-top: .25rem; }
button { margin-top: 1.5rem; width: 100%; padding: .6rem; }
.error { color: #b00020; background: #fdecea; padding: .5rem; border-radius: 4px; }
.client { color: #555; font-size: .9rem; }
</style>
</head>
<body>
<main>
<h1>Sign in to the workspace</h1>
<p class="client"><strong>{{.ClientName}}</strong> is requesting access to your workspace.</p>
{{if .Error}}<p class="error" role="alert">{{.Error}}</p>{{end}}
<form method="post" action="{{.Action}}">
<input type="hidden" name="continuation" value="{{.Continuation}}">
<label>Username
<input type="text" name="username" value="{{.Username}}" autocomplete="username" required autofocus>
</label>
<label>Password
<input type="password" name="password" autocomplete="current-password" required>
</label>
<button type="submit">Sign in</button>
</form>
</main>
</body>
</html>
`))

type loginView struct {
	*oauth.LoginForm
	Action string
}

func newLoginView(form *oauth.LoginForm) loginView {
	return loginView{LoginForm: form, Action: oauth.LoginPath}
}
