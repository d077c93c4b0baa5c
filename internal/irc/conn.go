// Установка TCP/TLS-соединения с сервером сети: необязательная привязка к
// локальному адресу (bindhost), таймаут набора и TLS с управляемой проверкой
// сертификата.
package irc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"ircwit/internal/infra/config"
)

const dialTimeout = 30 * time.Second

// dial устанавливает соединение с сервером srv. При непустом bindHost исходящее
// соединение привязывается к указанному локальному адресу.
func dial(ctx context.Context, srv config.Server, bindHost string) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	if bindHost != "" {
		ip := net.ParseIP(bindHost)
		if ip == nil {
			return nil, fmt.Errorf("bindhost %q is not a valid IP address", bindHost)
		}
		d.LocalAddr = &net.TCPAddr{IP: ip}
	}

	conn, err := d.DialContext(ctx, "tcp", srv.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", srv.Addr(), err)
	}

	if !srv.TLS {
		return conn, nil
	}

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName:         srv.Host,
		InsecureSkipVerify: !srv.Verify(),
	})
	hctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake %s: %w", srv.Addr(), err)
	}
	return tlsConn, nil
}
