package identity

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DNSResolver resolves identifiers published as DNS TXT records: an
// identifier "alice.example.org" publishes a "hive-key=<hex pubkey>" and
// optionally a "hive-rev=true" TXT record alongside an issuer DID reference
// in "hive-issuer=<did>". This gives the distributed identity resolver a
// concrete, externally-hostable transport without this repo reimplementing
// its trust model (spec.md §1 treats the resolver as an external
// collaborator, specified only at its interface).
type DNSResolver struct {
	client  *dns.Client
	servers []string
	timeout time.Duration
}

// NewDNSResolver builds a resolver that queries the given DNS servers
// (host:port) in order, stopping at the first that answers.
func NewDNSResolver(servers []string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &DNSResolver{
		client:  &dns.Client{Timeout: timeout},
		servers: servers,
		timeout: timeout,
	}
}

// Resolve implements Backend.
func (d *DNSResolver) Resolve(ctx context.Context, id string) (Record, error) {
	if len(d.servers) == 0 {
		return Record{}, fmt.Errorf("identity: dns resolver has no configured servers")
	}
	fqdn := dns.Fqdn(id)
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, dns.TypeTXT)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range d.servers {
		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		default:
		}
		resp, _, err := d.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("identity: dns rcode %d from %s", resp.Rcode, server)
			continue
		}
		rec, err := parseTXTAnswers(id, resp.Answer)
		if err != nil {
			lastErr = err
			continue
		}
		return rec, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("identity: no dns servers answered for %q", id)
	}
	return Record{}, lastErr
}

func parseTXTAnswers(id string, answers []dns.RR) (Record, error) {
	rec := Record{ID: id}
	found := false
	for _, rr := range answers {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		for _, chunk := range txt.Txt {
			key, value, ok := strings.Cut(chunk, "=")
			if !ok {
				continue
			}
			switch strings.TrimSpace(key) {
			case "hive-key":
				pub, err := hex.DecodeString(strings.TrimSpace(value))
				if err != nil {
					return Record{}, fmt.Errorf("identity: invalid hive-key TXT for %q: %w", id, err)
				}
				rec.PubKey = pub
				found = true
			case "hive-issuer":
				rec.IssuerDID = strings.TrimSpace(value)
			case "hive-rev":
				rec.Revoked = strings.EqualFold(strings.TrimSpace(value), "true")
			}
		}
	}
	if !found {
		return Record{}, fmt.Errorf("identity: no hive-key TXT record for %q", id)
	}
	return rec, nil
}
