package request

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

var Request = New()

// New returns a client honouring proxy env variables with bounded retries.
func New() *resty.Client {
	return resty.New().SetTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment, // 通用适配环境变量
	}).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetTimeout(10 * time.Second)
}
