package sandbox

import "github.com/dop251/goja"

// preludeSrc defines the helper functions visible to command code. They
// delegate to the __-prefixed host bindings; JSON conversion for the
// key-value helpers happens here so the host side only ever sees raw
// JSON text.
const preludeSrc = `
const sleep = (ms) => new Promise((resolve) => setTimeout(resolve, ms));

const notify = (title, body) => __notify(String(title), body === undefined ? "" : String(body));

const toast = (message) => __notify("toast", String(message));

const kvGet = (key, fallback = null) => {
  const raw = __kvGet(String(key));
  return raw === null ? fallback : JSON.parse(raw);
};

const kvSet = (key, value) => __kvSet(String(key), JSON.stringify(value === undefined ? null : value));

const kvRemove = (key) => __kvRemove(String(key));

const fetchText = (url) => __fetchText(String(url));
`

var preludeProg = goja.MustCompile("prelude", preludeSrc, false)
