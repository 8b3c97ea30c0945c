// Package services is the registry of archives the command line and server know by name.
package services

import (
	"fmt"
	"sort"
	"strings"

	"astroquery/lib/client"
	"astroquery/lib/query"
	"astroquery/lib/textutil"

	"dario.cat/mergo"
	"github.com/antzucaro/matchr"
)

// suggestionThreshold is the minimum Jaro-Winkler similarity for a "did you mean".
const suggestionThreshold = 0.7

type Service struct {
	Name        string
	Description string
	Format      query.Format
	Config      client.Config
}

// Deferred reports whether the service answers through jobs.
func (s Service) Deferred() bool {
	return strings.EqualFold(s.Config.WithDefaults().Protocol, client.ProtocolUWS)
}

// Registry is immutable, Override returns a modified copy.
type Registry struct {
	services map[string]Service
}

func NewRegistry(services ...Service) Registry {
	r := Registry{services: make(map[string]Service, len(services))}
	for _, s := range services {
		r.services[textutil.NormalizeName(s.Name)] = s
	}
	return r
}

var tapFormats = map[string]string{
	"votable": "votable",
	"json":    "json",
	"text":    "csv",
	"fits":    "fits",
	"html":    "html",
}

func tap(name, description, server, protocol string) Service {
	return Service{
		Name:        name,
		Description: description,
		Format:      query.FormatVOTable,
		Config: client.Config{
			Server:       server,
			Method:       "POST",
			Protocol:     protocol,
			Params:       map[string]string{"REQUEST": "doQuery", "LANG": "ADQL"},
			FormatParam:  "FORMAT",
			FormatValues: tapFormats,
		},
	}
}

// Builtin returns the archives known without any configuration file.
func Builtin() Registry {
	return NewRegistry(
		tap("simbad", "SIMBAD astronomical database (CDS), TAP", "https://simbad.cds.unistra.fr/simbad/sim-tap/sync", client.ProtocolSync),
		tap("vizier", "VizieR catalogue service (CDS), TAP", "https://tapvizier.cds.unistra.fr/TAPVizieR/tap/sync", client.ProtocolSync),
		tap("gaia", "ESA Gaia archive, synchronous TAP", "https://gea.esac.esa.int/tap-server/tap/sync", client.ProtocolSync),
		tap("gaia-async", "ESA Gaia archive, asynchronous TAP jobs", "https://gea.esac.esa.int/tap-server/tap/async", client.ProtocolUWS),
		tap("ned", "NASA/IPAC Extragalactic Database, TAP", "https://ned.ipac.caltech.edu/tap/sync", client.ProtocolSync),
		tap("irsa", "NASA/IPAC Infrared Science Archive, TAP", "https://irsa.ipac.caltech.edu/TAP/sync", client.ProtocolSync),
		tap("irsa-async", "NASA/IPAC Infrared Science Archive, asynchronous TAP jobs", "https://irsa.ipac.caltech.edu/TAP/async", client.ProtocolUWS),
		tap("mast", "Mikulski Archive for Space Telescopes, CAOM TAP", "https://mast.stsci.edu/vo-tap/api/v0.1/caom/sync", client.ProtocolSync),
	)
}

// Override merges configured options into the named services, non-zero fields of an override win.
// Unknown names are added as new services.
func (r Registry) Override(configs map[string]client.Config) (Registry, error) {
	out := Registry{services: make(map[string]Service, len(r.services)+len(configs))}
	for key, s := range r.services {
		out.services[key] = s
	}

	for name, cfg := range configs {
		key := textutil.NormalizeName(name)
		s, exists := out.services[key]
		if !exists {
			s = Service{Name: name, Format: query.FormatVOTable}
		}
		merged := s.Config
		merged.Params = copyMap(s.Config.Params)
		merged.FormatValues = copyMap(s.Config.FormatValues)
		err := mergo.Merge(&merged, cfg, mergo.WithOverride)
		if err != nil {
			return Registry{}, fmt.Errorf("service %q: %w", name, err)
		}
		err = merged.Validate()
		if err != nil {
			return Registry{}, fmt.Errorf("service %q: %w", name, err)
		}
		s.Config = merged
		out.services[key] = s
	}
	return out, nil
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Names lists the registered services alphabetically.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r.services))
	for _, s := range r.services {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

func (r Registry) All() []Service {
	out := make([]Service, 0, len(r.services))
	for _, name := range r.Names() {
		out = append(out, r.services[textutil.NormalizeName(name)])
	}
	return out
}

// Lookup finds a service by name ignoring case and whitespace. Unknown names fail with
// query.ErrInvalidQuery, suggesting the closest registered name.
func (r Registry) Lookup(name string) (Service, error) {
	key := textutil.NormalizeName(name)
	s, ok := r.services[key]
	if ok {
		return s, nil
	}

	var best string
	var bestSimilarity float64
	for candidate, service := range r.services {
		similarity := matchr.JaroWinkler(key, candidate, false)
		if similarity > bestSimilarity {
			bestSimilarity = similarity
			best = service.Name
		}
	}
	if bestSimilarity >= suggestionThreshold {
		return Service{}, fmt.Errorf("%w: unknown service %q, did you mean %q?", query.ErrInvalidQuery, name, best)
	}
	return Service{}, fmt.Errorf("%w: unknown service %q", query.ErrInvalidQuery, name)
}
