package utils

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/mpapenbr/racestate-live/log"
)

func WaitForTCP(addr string, timeout time.Duration) error {
	timeoutReached := time.Now().Add(timeout)
	start := time.Now()
	log.Debug("wait for tcp connection",
		log.String("addr", addr),
		log.String("timeout", timeout.String()))
	var d net.Dialer
	for time.Now().Before(timeoutReached) {
		conn, err := d.DialContext(context.Background(), "tcp", addr)
		if err == nil {
			conn.Close()

			log.Debug("tcp connection successful",
				log.String("addr", addr),
				log.String("duration", time.Since(start).String()))
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("%s could not be reached after %v", addr, timeout)
}

func WaitForHTTPResponse(url string, timeout time.Duration) error {
	timeoutReached := time.Now().Add(timeout)
	start := time.Now()
	log.Debug("wait for http request",
		log.String("url", url),
		log.String("timeout", timeout.String()))
	cli := &http.Client{Timeout: 2 * time.Second}
	for time.Now().Before(timeoutReached) {
		req, _ := http.NewRequestWithContext(
			context.Background(), http.MethodGet, url, http.NoBody)
		resp, err := cli.Do(req)
		if err == nil {
			resp.Body.Close()
			log.Debug("http request successful",
				log.String("url", url),
				log.String("duration", time.Since(start).String()))
			return nil
		}

		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("%s could not be reached after %v", url, timeout)
}

// ExtractFromWebsocketURL returns host:port and the protocol of a ws/wss url
func ExtractFromWebsocketURL(url string) (addr, proto string) {
	return extractAddr(
		"^(?P<proto>ws|wss)://(?P<addr>(?P<host>[^/:]*?)(:(?P<port>\\d+))?)(/.*)?$",
		url, map[string]string{"ws": "80", "wss": "443"})
}

// ExtractFromHTTPURL returns host:port and the protocol of a http/https url
func ExtractFromHTTPURL(url string) (addr, proto string) {
	return extractAddr(
		"^(?P<proto>http|https)://(?P<addr>(?P<host>[^/:]*?)(:(?P<port>\\d+))?)(/.*)?$",
		url, map[string]string{"http": "80", "https": "443"})
}

// ExtractFromNatsURL returns host:port of a nats url. Only the first server
// of a comma separated list is considered.
func ExtractFromNatsURL(url string) string {
	addr, _ := extractAddr(
		"^(?P<proto>nats|tls)://(.*@)?(?P<addr>(?P<host>[^/:,]*?)(:(?P<port>\\d+))?)([/,].*)?$",
		url, map[string]string{"nats": "4222", "tls": "4222"})
	return addr
}

func extractAddr(regEx, url string, defaultPorts map[string]string) (addr, proto string) {
	param := resolveRegex(regEx, url)
	if len(param) == 0 {
		return "", ""
	}
	proto = param["proto"]
	if port, ok := param["port"]; ok && port != "" {
		// if port is found, the addr contains our wanted value
		return param["addr"], proto
	}
	return fmt.Sprintf("%s:%s", param["host"], defaultPorts[proto]), proto
}

func resolveRegex(regEx, url string) (paramsMap map[string]string) {
	compRegEx := regexp.MustCompile(regEx)
	match := compRegEx.FindStringSubmatch(url)
	if match == nil {
		return map[string]string{}
	}

	paramsMap = make(map[string]string)
	for i, name := range compRegEx.SubexpNames() {
		if i > 0 && i < len(match) && name != "" {
			paramsMap[name] = match[i]
		}
	}
	return paramsMap
}
