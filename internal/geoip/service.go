package geoip

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"golang.org/x/sync/errgroup"

	"github.com/gatescope/gatescope/internal/logging"
)

const (
	CountryFile = "GeoLite2-Country.mmdb"
	CityFile    = "GeoLite2-City.mmdb"
	ASNFile     = "GeoLite2-ASN.mmdb"
)

// Result is one IP lookup. Country is required for a success; region, city
// and ASN depend on which optional databases are present.
type Result struct {
	Success     bool   `json:"success"`
	IP          string `json:"ip"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Region      string `json:"region,omitempty"`
	City        string `json:"city,omitempty"`
	ASN         string `json:"asn,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Service reads MaxMind-format databases with lazy load and atomic hot swap.
// The reader handles live behind a RW lock; Reload takes the write lock only
// for the pointer swap.
type Service struct {
	dirs []string

	mu      sync.RWMutex
	country *geoip2.Reader
	city    *geoip2.Reader
	asn     *geoip2.Reader
	tried   bool
}

// NewService looks for databases in dir first, then ./data as the legacy
// location.
func NewService(dir string) *Service {
	dirs := []string{dir}
	if dir != "./data" {
		dirs = append(dirs, "./data")
	}
	return &Service{dirs: dirs}
}

// Dir returns the primary database directory (the download target).
func (s *Service) Dir() string { return s.dirs[0] }

func (s *Service) findFile(name string) string {
	for _, dir := range s.dirs {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// ensureLoaded opens readers on first use. A missing country database just
// leaves the service unavailable; the download task fixes that later.
func (s *Service) ensureLoaded() {
	s.mu.RLock()
	tried := s.tried
	s.mu.RUnlock()
	if tried {
		return
	}
	if err := s.Reload(); err != nil {
		logging.Debug("geoip not loaded yet", "error", err)
	}
}

// Reload opens fresh readers and swaps them in atomically. Old readers are
// closed after the swap so in-flight lookups finish on the previous files.
func (s *Service) Reload() error {
	var country, city, asn *geoip2.Reader

	countryPath := s.findFile(CountryFile)
	if countryPath != "" {
		r, err := geoip2.Open(countryPath)
		if err != nil {
			return fmt.Errorf("unable to open %s: %w", countryPath, err)
		}
		country = r
	}
	if cityPath := s.findFile(CityFile); cityPath != "" {
		if r, err := geoip2.Open(cityPath); err == nil {
			city = r
		} else {
			logging.Warn("unable to open city database", "path", cityPath, "error", err)
		}
	}
	if asnPath := s.findFile(ASNFile); asnPath != "" {
		if r, err := geoip2.Open(asnPath); err == nil {
			asn = r
		} else {
			logging.Warn("unable to open asn database", "path", asnPath, "error", err)
		}
	}

	s.mu.Lock()
	oldCountry, oldCity, oldASN := s.country, s.city, s.asn
	s.country, s.city, s.asn = country, city, asn
	s.tried = true
	s.mu.Unlock()

	for _, r := range []*geoip2.Reader{oldCountry, oldCity, oldASN} {
		if r != nil {
			r.Close()
		}
	}

	if country == nil {
		return fmt.Errorf("country database not found in %v", s.dirs)
	}
	logging.Info("geoip databases loaded",
		"country", country != nil, "city", city != nil, "asn", asn != nil)
	return nil
}

func (s *Service) IsAvailable() bool {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.country != nil
}

// Query looks up a single IP. Private and unparseable addresses come back
// as non-success results rather than errors so batch callers can aggregate
// them as "unknown".
func (s *Service) Query(ip string) Result {
	s.ensureLoaded()

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Result{IP: ip, Error: "invalid_ip"}
	}
	if parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast() {
		return Result{IP: ip, Error: "private_ip"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.country == nil {
		return Result{IP: ip, Error: "database_unavailable"}
	}

	res := Result{IP: ip}

	if s.city != nil {
		record, err := s.city.City(parsed)
		if err == nil && record.Country.IsoCode != "" {
			res.Success = true
			res.Country = localizedName(record.Country.Names)
			res.CountryCode = record.Country.IsoCode
			if len(record.Subdivisions) > 0 {
				res.Region = localizedName(record.Subdivisions[0].Names)
			}
			res.City = localizedName(record.City.Names)
		}
	}

	if !res.Success {
		record, err := s.country.Country(parsed)
		if err != nil || record.Country.IsoCode == "" {
			res.Error = "not_found"
			return res
		}
		res.Success = true
		res.Country = localizedName(record.Country.Names)
		res.CountryCode = record.Country.IsoCode
	}

	if s.asn != nil {
		if record, err := s.asn.ASN(parsed); err == nil && record.AutonomousSystemNumber > 0 {
			res.ASN = fmt.Sprintf("AS%d %s", record.AutonomousSystemNumber, record.AutonomousSystemOrganization)
		}
	}

	return res
}

// QueryBatch resolves many IPs with bounded concurrency. The result map has
// one entry per distinct input IP.
func (s *Service) QueryBatch(ctx context.Context, ips []string) map[string]Result {
	s.ensureLoaded()

	results := make(map[string]Result, len(ips))
	var mu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)

	seen := make(map[string]bool, len(ips))
	for _, ip := range ips {
		if seen[ip] {
			continue
		}
		seen[ip] = true

		ip := ip
		g.Go(func() error {
			res := s.Query(ip)
			mu.Lock()
			results[ip] = res
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return results
}

func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range []*geoip2.Reader{s.country, s.city, s.asn} {
		if r != nil {
			r.Close()
		}
	}
	s.country, s.city, s.asn = nil, nil, nil
}

// localizedName prefers the Chinese name (the dashboard audience), falling
// back to English.
func localizedName(names map[string]string) string {
	if name := names["zh-CN"]; name != "" {
		return name
	}
	return names["en"]
}
