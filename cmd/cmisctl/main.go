// cmisctl talks to a CMIS repository through any of the bindings.
//
//	cmisctl [flags] get <objectId>
//	cmisctl [flags] latest <objectId>
//	cmisctl [flags] fetch <objectId> [--offset n] [--length n]
//	cmisctl [flags] create <folderId> <file> [--type t] [--name n]
//	cmisctl [flags] mkdir <parentId> <name>
//	cmisctl [flags] put <objectId> <file>
//	cmisctl [flags] rm <objectId>
//
// Endpoints come from --url, --config (YAML, see package config) or the
// CMIS_*_URL environment variables, in that order.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/ggoodman/cmis-bindings-go/auth"
	"github.com/ggoodman/cmis-bindings-go/binding"
	"github.com/ggoodman/cmis-bindings-go/binding/httpjson"
	"github.com/ggoodman/cmis-bindings-go/binding/restxml"
	"github.com/ggoodman/cmis-bindings-go/binding/rpcstub"
	"github.com/ggoodman/cmis-bindings-go/client"
	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/config"
	"github.com/spf13/pflag"
	"golang.org/x/oauth2/clientcredentials"
)

type options struct {
	binding    string
	url        string
	configFile string
	repository string
	verbose    bool

	user     string
	password string

	issuer string
	secret string

	clientID     string
	clientSecret string
	tokenURL     string

	offset   int64
	length   int64
	typeID   string
	name     string
	mimeType string
	major    bool
	all      bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if kind := cmis.KindOf(err); kind != cmis.KindRuntime {
			fmt.Fprintf(os.Stderr, "kind: %s\n", kind.String())
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	var o options
	fs := pflag.NewFlagSet("cmisctl", pflag.ContinueOnError)
	fs.StringVar(&o.binding, "binding", "", "wire binding: browser, atom or rpc (default browser, or the config file's)")
	fs.StringVar(&o.url, "url", "", "endpoint url used for every service")
	fs.StringVar(&o.configFile, "config", "", "YAML endpoint configuration")
	fs.StringVarP(&o.repository, "repository", "r", "repo", "repository id")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "log calls to stderr")
	fs.StringVarP(&o.user, "user", "u", "", "username for basic or envelope credentials")
	fs.StringVar(&o.password, "password", "", "password for basic or envelope credentials")
	fs.StringVar(&o.issuer, "issuer", "", "issuer of locally signed bearer tokens")
	fs.StringVar(&o.secret, "secret", "", "HMAC secret for locally signed bearer tokens")
	fs.StringVar(&o.clientID, "client-id", "", "OAuth 2.0 client id (client credentials grant)")
	fs.StringVar(&o.clientSecret, "client-secret", "", "OAuth 2.0 client secret")
	fs.StringVar(&o.tokenURL, "token-url", "", "OAuth 2.0 token endpoint")
	fs.Int64Var(&o.offset, "offset", -1, "fetch: first byte")
	fs.Int64Var(&o.length, "length", -1, "fetch: number of bytes")
	fs.StringVar(&o.typeID, "type", string(cmis.BaseTypeDocument), "create: object type id")
	fs.StringVar(&o.name, "name", "", "create: object name (default: file name)")
	fs.StringVar(&o.mimeType, "mime-type", "", "create, put: content media type")
	fs.BoolVar(&o.major, "major", false, "latest: return the latest major version")
	fs.BoolVar(&o.all, "all-versions", true, "rm: delete the whole version series")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: cmisctl [flags] get|latest|fetch|create|mkdir|put|rm ...")
		fs.PrintDefaults()
		return pflag.ErrHelp
	}

	log := slog.New(slog.DiscardHandler)
	if o.verbose {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	src, bindingName, err := endpoints(&o, log)
	if err != nil {
		return err
	}
	factory, err := newFactory(bindingName, log)
	if err != nil {
		return err
	}
	sessOpts := []binding.SessionOption{binding.WithLogger(log)}
	if p := provider(ctx, &o); p != nil {
		sessOpts = append(sessOpts, binding.WithAuthProvider(p))
	}
	sess := binding.NewSession(src, factory, sessOpts...)
	defer sess.Close()

	c := client.New(binding.NewDispatcher(sess), o.repository, client.WithLogger(log))
	return dispatch(ctx, c, &o, fs.Args())
}

func endpoints(o *options, log *slog.Logger) (config.Source, string, error) {
	switch {
	case o.url != "":
		return config.Single(o.url), o.binding, nil
	case o.configFile != "":
		f, err := config.LoadFile(o.configFile, config.WithLogger(log))
		if err != nil {
			return nil, "", err
		}
		name := o.binding
		if name == "" {
			name = f.Binding()
		}
		return f, name, nil
	default:
		s, err := config.FromEnv()
		if err != nil {
			return nil, "", err
		}
		return s, o.binding, nil
	}
}

func newFactory(name string, log *slog.Logger) (binding.Factory, error) {
	switch name {
	case "", "browser", "json":
		return httpjson.New(httpjson.WithLogger(log)), nil
	case "atom", "xml":
		return restxml.New(restxml.WithLogger(log)), nil
	case "rpc", "cbor":
		return rpcstub.New(rpcstub.WithLogger(log)), nil
	default:
		return nil, fmt.Errorf("unknown binding %q", name)
	}
}

// provider picks credentials from the flags: client credentials, then a
// locally signed assertion, then username and password.
func provider(ctx context.Context, o *options) auth.Provider {
	switch {
	case o.clientID != "" && o.tokenURL != "":
		return auth.NewClientCredentials(ctx, &clientcredentials.Config{
			ClientID:     o.clientID,
			ClientSecret: o.clientSecret,
			TokenURL:     o.tokenURL,
		})
	case o.secret != "":
		subject := o.user
		if subject == "" {
			subject = "cmisctl"
		}
		return auth.NewSignedAssertion(o.issuer, subject, []byte(o.secret))
	case o.user != "":
		return auth.NewStandard(o.user, o.password)
	default:
		return nil
	}
}
