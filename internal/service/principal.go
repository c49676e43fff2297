package service

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"strings"

	"github.com/olegmukhin/thoughtgate/internal/config"
	"github.com/olegmukhin/thoughtgate/internal/domain/policy"
)

const (
	serviceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
	serviceAccountTokenFile     = "/var/run/secrets/kubernetes.io/serviceaccount/token"
)

// InferPrincipal builds the one Principal a ThoughtGate process carries for
// its whole lifetime. Outside dev mode the app name comes from the
// hostname, which under the Kubernetes downward API defaults to the pod
// name, and the namespace and service account come from the projected
// service-account mount when present. In dev mode the config overrides win
// outright and no mount is consulted; the override is recognized only when
// DevMode is true, never merely because the override fields are set.
func InferPrincipal(cfg config.Config) policy.Principal {
	if cfg.DevMode {
		appName := cfg.Policy.DevPrincipal
		if appName == "" {
			appName = "dev"
		}
		return policy.Principal{AppName: appName, Namespace: cfg.Policy.DevNamespace}
	}

	appName, err := os.Hostname()
	if err != nil || appName == "" {
		appName = "thoughtgate-sidecar"
	}

	return policy.Principal{
		AppName:        appName,
		Namespace:      readServiceAccountNamespace(),
		ServiceAccount: readServiceAccountName(),
	}
}

func readServiceAccountNamespace() string {
	ns, err := os.ReadFile(serviceAccountNamespaceFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(ns))
}

// readServiceAccountName extracts the service account name from the
// unverified claims of the mounted projected token. The token's signature
// is never checked here: this reads the pod's own identity for policy
// labelling, not for authenticating an inbound caller, so the trust
// boundary is the kubelet's mount, not this parse.
func readServiceAccountName() string {
	tok, err := os.ReadFile(serviceAccountTokenFile)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.TrimSpace(string(tok)), ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims struct {
		Kubernetes struct {
			ServiceAccount struct {
				Name string `json:"name"`
			} `json:"serviceaccount"`
		} `json:"kubernetes.io"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.Kubernetes.ServiceAccount.Name
}
