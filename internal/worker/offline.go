package worker

import (
	"encoding/json"
	"net/http"
)

// OfflineAPIError 是网络不可用且无缓存时 API 请求收到的固定载荷。
type OfflineAPIError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Offline bool   `json:"offline"`
}

var offlineAPIBody = mustJSON(OfflineAPIError{
	Error:   "Bağlantı hatası",
	Message: "İnternet bağlantınızı kontrol edin",
	Offline: true,
})

func offlineAPIResponse() *Response {
	return &Response{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   append([]byte(nil), offlineAPIBody...),
		Source: SourceOffline,
	}
}

// offlinePageHTML 自包含，不引用任何外部资源；联网后自动刷新。
const offlinePageHTML = `<!DOCTYPE html>
<html lang="tr">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Kuryecini - Çevrimdışı</title>
<style>
body{margin:0;min-height:100vh;display:flex;align-items:center;justify-content:center;font-family:system-ui,-apple-system,sans-serif;background:#fff7ed;color:#1f2937;text-align:center}
main{padding:2rem;max-width:420px}
h1{color:#ea580c;margin-bottom:.5rem}
button{margin-top:1.5rem;padding:.75rem 1.5rem;border:0;border-radius:.5rem;background:#ea580c;color:#fff;font-size:1rem;cursor:pointer}
</style>
</head>
<body>
<main>
<h1>Kuryecini</h1>
<p>Şu anda çevrimdışısınız. İnternet bağlantınızı kontrol edip tekrar deneyin.</p>
<button type="button" id="retry" onclick="window.location.reload()">Tekrar Dene</button>
</main>
<script>
window.addEventListener('online', function () { window.location.reload(); });
</script>
</body>
</html>
`

func inlineOfflinePage() *Response {
	return &Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:   []byte(offlinePageHTML),
		Source: SourceOffline,
	}
}

func mustJSON(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
