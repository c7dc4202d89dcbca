package provisioning

// setupPage is the configuration page served at the portal root. The form
// posts to /config as form-encoded fields, matching what the mobile app
// sends.
const setupPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>VWire Setup</title>
<style>
  body { font-family: -apple-system, sans-serif; background: #f4f6f8; margin: 0; padding: 24px; }
  .card { max-width: 420px; margin: 0 auto; background: #fff; border-radius: 8px; padding: 24px; box-shadow: 0 1px 4px rgba(0,0,0,.12); }
  h1 { font-size: 1.4em; margin: 0 0 4px; }
  p.sub { color: #667; margin: 0 0 20px; }
  label { display: block; font-size: .9em; margin: 12px 0 4px; }
  input { width: 100%; box-sizing: border-box; padding: 10px; border: 1px solid #ccd; border-radius: 4px; }
  button { width: 100%; margin-top: 20px; padding: 12px; border: 0; border-radius: 4px; background: #2266dd; color: #fff; font-size: 1em; }
  button:disabled { background: #9ab; }
  .status { margin-top: 16px; padding: 10px; border-radius: 4px; display: none; }
  .status.success { background: #e6f6ea; color: #186a2e; }
  .status.error { background: #fbe9e9; color: #94201f; }
  .note { margin-top: 20px; font-size: .85em; color: #667; }
</style>
</head>
<body>
<div class="card">
  <h1>VWire Setup</h1>
  <p class="sub">Configure your IoT device</p>
  <form id="configForm" onsubmit="return submitConfig()">
    <label for="ssid">WiFi Network (SSID)</label>
    <input type="text" id="ssid" name="ssid" placeholder="Your WiFi name" required maxlength="32">
    <label for="password">WiFi Password</label>
    <input type="password" id="password" name="password" placeholder="WiFi password" maxlength="64">
    <label for="token">Device Token</label>
    <input type="text" id="token" name="token" placeholder="From VWire dashboard" required maxlength="63">
    <button type="submit" id="submitBtn">Configure Device</button>
    <div id="status" class="status"></div>
    <div class="note">
      <strong>Note:</strong> After configuration, the device will connect to
      your WiFi network. You can then close this page.
    </div>
  </form>
</div>
<script>
function submitConfig() {
  var btn = document.getElementById('submitBtn');
  var status = document.getElementById('status');
  btn.disabled = true;
  btn.textContent = 'Configuring...';
  status.style.display = 'none';
  var body = 'ssid=' + encodeURIComponent(document.getElementById('ssid').value) +
             '&password=' + encodeURIComponent(document.getElementById('password').value) +
             '&token=' + encodeURIComponent(document.getElementById('token').value);
  fetch('/config', {
    method: 'POST',
    headers: { 'Content-Type': 'application/x-www-form-urlencoded' },
    body: body
  })
  .then(function (r) { return r.json(); })
  .then(function (data) {
    if (!data.success) { throw new Error(data.error || 'Configuration failed'); }
    status.className = 'status success';
    status.textContent = 'Configuration saved. Device is connecting...';
    status.style.display = 'block';
  })
  .catch(function (err) {
    status.className = 'status error';
    status.textContent = err.message;
    status.style.display = 'block';
    btn.disabled = false;
    btn.textContent = 'Configure Device';
  });
  return false;
}
</script>
</body>
</html>
`
