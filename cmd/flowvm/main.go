// flowvm CLI - loads a compiled flow program and runs its events.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"gopkg.in/yaml.v3"

	"github.com/chazu/flowvm/ast"
	"github.com/chazu/flowvm/manifest"
	"github.com/chazu/flowvm/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("flowvm")

func main() {
	dir := flag.String("C", ".", "Project directory (searched upward for flowvm.toml)")
	event := flag.String("e", "", "Run a single event by name instead of the manifest's run list")
	inputs := flag.String("inputs", "", "YAML list of input values for -e")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: flowvm [options]\n\n")
		fmt.Fprintf(os.Stderr, "Loads the program named by flowvm.toml and runs its events to completion.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  flowvm                          # Run the manifest's event list\n")
		fmt.Fprintf(os.Stderr, "  flowvm -e update -inputs '[1]'  # Run one event with inputs\n")
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	if err := run(*dir, *event, *inputs); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(dir, event, eventInputs string) error {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("no flowvm.toml found in or above %s", dir)
	}
	log.Infof("project %s %s", m.Project.Name, m.Project.Version)

	data, err := os.ReadFile(m.ProgramPath())
	if err != nil {
		return err
	}
	program, err := ast.DecodeProgram(data)
	if err != nil {
		return err
	}
	log.Infof("program loaded: %d events, %d functions, %d types",
		len(program.Events), len(program.Functions), len(program.Types))

	machine, err := vm.New(program)
	if err != nil {
		return err
	}
	vm.RegisterCoreOperations(machine)

	specs := m.Run.Events
	if event != "" {
		specs = []manifest.EventSpec{{Name: event, Inputs: eventInputs}}
	}

	handles := make(map[uuid.UUID]string, len(specs))
	for _, spec := range specs {
		refs, err := eventInputRefs(spec.Inputs)
		if err != nil {
			return fmt.Errorf("event %q: %w", spec.Name, err)
		}
		handle, err := machine.RunEvent(spec.Name, refs)
		if err != nil {
			return err
		}
		handles[handle] = spec.Name
		log.Infof("event %q running as %s", spec.Name, handle)
	}

	for machine.RunningEvents() > 0 {
		if err := tick(machine, m.Run.StepsPerTick, handles); err != nil {
			return err
		}
	}

	return report(machine, handles)
}

// tick advances every running event by one host tick: either a full
// run-until-halt pass, or a bounded number of single steps per event.
func tick(machine *vm.VM, steps int, handles map[uuid.UUID]string) error {
	if steps <= 0 {
		return machine.ProcessEvents()
	}
	for handle := range handles {
		for i := 0; i < steps; i++ {
			if err := machine.SingleStepEvent(handle); err != nil {
				var nf *vm.NotFoundError
				if errors.As(err, &nf) && nf.Kind == "event handle" {
					break // completed on an earlier step this tick
				}
				return err
			}
		}
	}
	return nil
}

// eventInputRefs parses a YAML list document into input references.
func eventInputRefs(doc string) ([]vm.Reference, error) {
	if doc == "" {
		return nil, nil
	}
	var raw any
	if err := yaml.Unmarshal([]byte(doc), &raw); err != nil {
		return nil, err
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("inputs must be a YAML list, got %T", raw)
	}
	refs := make([]vm.Reference, len(items))
	for i, item := range items {
		v, err := vm.FromDocument(item)
		if err != nil {
			return nil, err
		}
		refs[i] = vm.NewReference(v)
	}
	return refs, nil
}

// report drains the completed table and prints each event's outputs as YAML.
func report(machine *vm.VM, handles map[uuid.UUID]string) error {
	completed := machine.CompletedEvents()
	for handle, outputs := range completed {
		name := handles[handle]
		docs := make([]any, len(outputs))
		for i, out := range outputs {
			docs[i] = vm.ToDocument(out.Value())
		}
		text, err := yaml.Marshal(map[string]any{name: docs})
		if err != nil {
			return err
		}
		fmt.Print(string(text))
		delete(handles, handle)
	}
	return nil
}
