package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"

	"gitlab.com/davidxarnold/census/pkg/core"
)

// Runner executes an external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner. A non-zero exit is reported with the command's
// standard error text.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	// #nosec G204 - name is the az binary and args are built by this package
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
		}
		return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
	}
	return stdout.Bytes(), nil
}

// azBinary returns the Azure CLI executable name for the current platform.
func azBinary() string {
	if runtime.GOOS == "windows" {
		return "az.cmd"
	}
	return "az"
}

// ErrAzureCLINotFound is returned by the preflight check when az is missing.
var ErrAzureCLINotFound = errors.New("azure CLI (az) not found in PATH")

// ErrAzureNotLoggedIn is returned by the preflight check when az has no
// active login.
var ErrAzureNotLoggedIn = errors.New("not logged in to azure CLI, run 'az login'")

// azureCLI implements AzureAPI by shelling out to the az command.
type azureCLI struct {
	run Runner
	bin string
}

// NewAzureCLI returns an AzureAPI that drives the az CLI through run.
func NewAzureCLI(run Runner) AzureAPI {
	return &azureCLI{run: run, bin: azBinary()}
}

// CheckAzureCLI verifies that az is installed and logged in.
func CheckAzureCLI(ctx context.Context, run Runner) error {
	bin := azBinary()
	out, err := run.Run(ctx, bin, "--version")
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return ErrAzureCLINotFound
		}
		return fmt.Errorf("az --version: %w", err)
	}
	if line, _, _ := strings.Cut(string(out), "\n"); line != "" {
		log.Debugf("azure CLI: %s", strings.TrimSpace(line))
	}

	if _, err := run.Run(ctx, bin, "account", "show", "-o", "json"); err != nil {
		log.Debugf("az account show failed: %v", err)
		return ErrAzureNotLoggedIn
	}
	return nil
}

func (a *azureCLI) json(ctx context.Context, v interface{}, args ...string) error {
	out, err := a.run.Run(ctx, a.bin, append(args, "-o", "json")...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(out, v); err != nil {
		return fmt.Errorf("decode az %s output: %w", args[0], err)
	}
	return nil
}

type azAccount struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (a *azureCLI) Subscriptions(ctx context.Context) ([]core.Scope, error) {
	var accounts []azAccount
	if err := a.json(ctx, &accounts, "account", "list"); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	scopes := make([]core.Scope, 0, len(accounts))
	for _, acc := range accounts {
		if acc.ID == "" {
			continue
		}
		name := acc.Name
		if name == "" {
			name = core.Unknown
		}
		scopes = append(scopes, core.Scope{Name: name, ID: acc.ID})
	}
	return scopes, nil
}

func (a *azureCLI) ListVMs(ctx context.Context, subscriptionID string) ([]AzureVM, error) {
	var vms []AzureVM
	if err := a.json(ctx, &vms, "vm", "list", "--subscription", subscriptionID); err != nil {
		return nil, fmt.Errorf("list vms in %s: %w", subscriptionID, err)
	}
	return vms, nil
}

func (a *azureCLI) GetVM(ctx context.Context, subscriptionID, resourceGroup, name string) (AzureVM, error) {
	var vm AzureVM
	err := a.json(ctx, &vm, "vm", "show",
		"--subscription", subscriptionID,
		"--resource-group", resourceGroup,
		"--name", name)
	if err != nil {
		return AzureVM{}, fmt.Errorf("show vm %s/%s: %w", resourceGroup, name, err)
	}
	return vm, nil
}

func (a *azureCLI) PowerState(ctx context.Context, subscriptionID, resourceGroup, name string) (string, error) {
	var view AzureInstanceView
	err := a.json(ctx, &view, "vm", "get-instance-view",
		"--subscription", subscriptionID,
		"--resource-group", resourceGroup,
		"--name", name)
	if err != nil {
		return "", fmt.Errorf("instance view %s/%s: %w", resourceGroup, name, err)
	}
	if view.InstanceView != nil {
		if state, ok := powerStateFromStatuses(view.InstanceView.Statuses); ok {
			return state, nil
		}
	}
	return "", fmt.Errorf("no power state reported for %s/%s", resourceGroup, name)
}

// nolint:gochecknoinits // registration-style init keeps provider wiring local to this file.
func init() {
	RegisterSource(SourceAzureCLI, func(ctx context.Context, _ Options) (Source, error) {
		run := ExecRunner{}
		if err := CheckAzureCLI(ctx, run); err != nil {
			return nil, err
		}
		return NewAzureSource(SourceAzureCLI, NewAzureCLI(run)), nil
	})
}
