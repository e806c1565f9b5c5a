package viewer

// indexHTML is the single-page shell. All data flows through the JSON
// API; the shell only needs to log in and render what it fetches.
const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Chat Archive Viewer</title>
<style>
body { font-family: sans-serif; margin: 2em; max-width: 60em; }
h1 { font-size: 1.3em; }
#login, #browser { margin-top: 1em; }
.post { border-bottom: 1px solid #eee; padding: 0.4em 0; }
.meta { color: #666; font-size: 0.85em; }
.message { white-space: pre-wrap; }
ul { list-style: none; padding-left: 0; }
li a { cursor: pointer; color: #06c; }
.error { color: #c00; }
</style>
</head>
<body>
<h1>Chat Archive Viewer</h1>
<button id="logout" style="display:none; float:right" onclick="logout()">Log out</button>
<div id="login">
  <input id="password" type="password" placeholder="Password">
  <button onclick="login()">Log in</button>
  <span id="login-error" class="error"></span>
</div>
<div id="browser" style="display:none">
  <div id="dates"></div>
  <div id="channels"></div>
  <div id="posts"></div>
</div>
<script>
async function api(path) {
  const resp = await fetch(path);
  if (resp.status === 401) { show(false); throw new Error('unauthorized'); }
  return resp.json();
}
function show(loggedIn) {
  document.getElementById('login').style.display = loggedIn ? 'none' : '';
  document.getElementById('browser').style.display = loggedIn ? '' : 'none';
  document.getElementById('logout').style.display = loggedIn ? '' : 'none';
}
async function logout() {
  await fetch('/logout', {method: 'POST'});
  show(false);
}
async function login() {
  const resp = await fetch('/login', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({password: document.getElementById('password').value})
  });
  if (!resp.ok) {
    document.getElementById('login-error').textContent = 'wrong password';
    return;
  }
  show(true);
  loadDates();
}
async function loadDates() {
  const dates = await api('/api/dates');
  const el = document.getElementById('dates');
  el.innerHTML = '<h2>Dates</h2><ul>' + dates.map(d =>
    '<li><a onclick="loadChannels(\'' + d + '\')">' + d + '</a></li>').join('') + '</ul>';
}
async function loadChannels(date) {
  const channels = await api('/api/channels/' + date);
  const el = document.getElementById('channels');
  el.innerHTML = '<h2>' + date + '</h2><ul>' + channels.map(c =>
    '<li><a onclick="loadChannel(\'' + date + '\',\'' + encodeURIComponent(c.name) +
    '\',\'' + encodeURIComponent(c.json_file) + '\')">' + c.name + '</a></li>').join('') + '</ul>';
}
async function loadChannel(date, channel, file) {
  const data = await api('/api/channel/' + date + '/' + channel + '/' + file);
  const el = document.getElementById('posts');
  el.innerHTML = '<h2>' + data.channel.display_name + '</h2>' + data.posts.map(p =>
    '<div class="post"><div class="meta">' + p.created + ' · ' + p.username + '</div>' +
    '<div class="message">' + escapeHTML(p.message) + '</div>' +
    (p.existing_files || []).map(f => f.exists
      ? '<div class="meta">attachment: <a href="/files/' + date + '/' + channel + '/' +
        encodeURIComponent(f.actual_name) + '" target="_blank">' + escapeHTML(f.actual_name) + '</a></div>'
      : '<div class="meta">attachment: ' + escapeHTML(f.original_name) + ' (missing)</div>').join('') +
    '</div>').join('');
}
function escapeHTML(s) {
  return s.replace(/&/g, '&amp;').replace(/</g, '&lt;').replace(/>/g, '&gt;');
}
loadDates().then(() => show(true)).catch(() => show(false));
</script>
</body>
</html>
`
