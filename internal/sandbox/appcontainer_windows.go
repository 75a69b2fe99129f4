//go:build windows

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/basket/sandboxcore/internal/config"
)

// well-known capability SIDs, documented by Microsoft as stable strings
// independent of OS locale or version.
var wellKnownCapabilitySIDs = map[string]string{
	"InternetClient":             "S-1-15-3-1",
	"InternetClientServer":       "S-1-15-3-2",
	"PrivateNetworkClientServer": "S-1-15-3-3",
	"PicturesLibrary":            "S-1-15-3-4",
	"VideosLibrary":              "S-1-15-3-5",
	"MusicLibrary":               "S-1-15-3-6",
	"DocumentsLibrary":           "S-1-15-3-7",
}

var (
	modkernel32                       = windows.NewLazySystemDLL("kernel32.dll")
	modadvapi32                       = windows.NewLazySystemDLL("advapi32.dll")
	procInitProcThreadAttrList        = modkernel32.NewProc("InitializeProcThreadAttributeList")
	procUpdateProcThreadAttr          = modkernel32.NewProc("UpdateProcThreadAttribute")
	procDeleteProcThreadAttrList      = modkernel32.NewProc("DeleteProcThreadAttributeList")
	procCreateAppContainerProfile     = modkernel32.NewProc("CreateAppContainerProfile")
	procDeriveAppContainerSidFromName = modkernel32.NewProc("DeriveAppContainerSidFromAppContainerName")
	procFreeSid                       = modadvapi32.NewProc("FreeSid")
)

const (
	procThreadAttributeSecurityCapabilities = 0x00020009
	extendedStartupInfoPresent              = 0x00080000
	createNoWindow                          = 0x08000000
	createUnicodeEnvironment                = 0x00000400
	createSuspended                         = 0x00000004
	errAlreadyExists                        = 183
)

// securityCapabilities mirrors the Win32 SECURITY_CAPABILITIES layout.
type securityCapabilities struct {
	AppContainerSid *windows.SID
	Capabilities    *windows.SIDAndAttributes
	CapabilityCount uint32
	Reserved        uint32
}

type appContainerProvider struct {
	baseSession

	containerName string
	capabilities  []string
	timeout       time.Duration

	sid  *windows.SID
	caps []windows.SIDAndAttributes
}

func newAppContainerProvider(cfg config.SandboxConfig, timeout time.Duration) (*appContainerProvider, error) {
	name := cfg.ContainerName
	if name == "" {
		name = "sandboxcore-default"
	}
	return &appContainerProvider{containerName: name, capabilities: cfg.Capabilities, timeout: timeout}, nil
}

func (p *appContainerProvider) Kind() Kind { return KindWinAppContainer }

func (p *appContainerProvider) IsInitialized() bool { return p.isInitialized() }

func (p *appContainerProvider) Initialize(ctx context.Context, allowedDirs []string) error {
	if !p.beginInit() {
		return nil
	}

	sid, err := p.acquireProfile()
	if err != nil {
		return &OSError{Kind: KindWinAppContainer, Op: "acquire profile", Err: err}
	}
	p.sid = sid

	caps, err := capabilitySIDs(p.capabilities)
	if err != nil {
		p.freeSid()
		return &OSError{Kind: KindWinAppContainer, Op: "resolve capabilities", Err: err}
	}
	p.caps = caps

	if err := NewACLManager(p.sid).GrantDirectories(allowedDirs); err != nil {
		p.freeSid()
		return &OSError{Kind: KindWinAppContainer, Op: "grant directory access", Err: err}
	}

	p.markReady(allowedDirs)
	return nil
}

// acquireProfile creates the named AppContainer profile, or derives its SID
// if it already exists. ALREADY_EXISTS is not an error: the profile is
// reused as-is, matching the OS's recommended idempotent pattern.
func (p *appContainerProvider) acquireProfile() (*windows.SID, error) {
	name, err := syscall.UTF16PtrFromString(p.containerName)
	if err != nil {
		return nil, err
	}
	desc, _ := syscall.UTF16PtrFromString("sandboxcore managed profile")

	var sid *windows.SID
	r, _, _ := procCreateAppContainerProfile.Call(
		uintptr(unsafe.Pointer(name)),
		uintptr(unsafe.Pointer(name)),
		uintptr(unsafe.Pointer(desc)),
		0, 0,
		uintptr(unsafe.Pointer(&sid)),
	)
	if r == 0 {
		return sid, nil
	}
	if r != errAlreadyExists {
		return nil, fmt.Errorf("CreateAppContainerProfile failed: %#x", r)
	}

	r, _, _ = procDeriveAppContainerSidFromName.Call(
		uintptr(unsafe.Pointer(name)),
		uintptr(unsafe.Pointer(&sid)),
	)
	if r != 0 {
		return nil, fmt.Errorf("DeriveAppContainerSidFromAppContainerName failed: %#x", r)
	}
	return sid, nil
}

func (p *appContainerProvider) freeSid() {
	if p.sid != nil {
		procFreeSid.Call(uintptr(unsafe.Pointer(p.sid)))
		p.sid = nil
	}
}

// capabilitySIDs resolves configured capability names (default: none, the
// most restrictive posture) to SID_AND_ATTRIBUTES entries.
func capabilitySIDs(names []string) ([]windows.SIDAndAttributes, error) {
	out := make([]windows.SIDAndAttributes, 0, len(names))
	for _, name := range names {
		str, ok := wellKnownCapabilitySIDs[name]
		if !ok {
			return nil, fmt.Errorf("unknown capability %q", name)
		}
		sid, err := windows.StringToSid(str)
		if err != nil {
			return nil, fmt.Errorf("capability %q: %w", name, err)
		}
		out = append(out, windows.SIDAndAttributes{Sid: sid, Attributes: windows.SE_GROUP_ENABLED})
	}
	return out, nil
}

func (p *appContainerProvider) Execute(ctx context.Context, exe string, args []string, cwd string) (CommandResult, error) {
	cmdLine := buildCommandLine(append([]string{exe}, args...))
	return p.spawn(ctx, cmdLine, cwd)
}

func (p *appContainerProvider) ExecuteShell(ctx context.Context, cmd string, cwd string) (CommandResult, error) {
	cmdLine := buildCommandLine([]string{"cmd.exe", "/C", cmd})
	return p.spawn(ctx, cmdLine, cwd)
}

func (p *appContainerProvider) spawn(ctx context.Context, cmdLine string, cwd string) (CommandResult, error) {
	if err := p.requireReady(KindWinAppContainer, "execute"); err != nil {
		return CommandResult{}, err
	}

	p.execMu.Lock()
	defer p.execMu.Unlock()

	stdoutRead, stdoutWrite, err := newPipe()
	if err != nil {
		return CommandResult{}, &OSError{Kind: KindWinAppContainer, Op: "create stdout pipe", Err: err}
	}
	defer stdoutRead.Close()

	stderrRead, stderrWrite, err := newPipe()
	if err != nil {
		stdoutWrite.Close()
		return CommandResult{}, &OSError{Kind: KindWinAppContainer, Op: "create stderr pipe", Err: err}
	}
	defer stderrRead.Close()

	secCaps := securityCapabilities{
		AppContainerSid: p.sid,
		CapabilityCount: uint32(len(p.caps)),
	}
	if len(p.caps) > 0 {
		secCaps.Capabilities = &p.caps[0]
	}

	attrListSize := uintptr(0)
	procInitProcThreadAttrList.Call(0, 1, 0, uintptr(unsafe.Pointer(&attrListSize)))
	attrListBuf := make([]byte, attrListSize)
	attrList := unsafe.Pointer(&attrListBuf[0])

	r, _, err2 := procInitProcThreadAttrList.Call(uintptr(attrList), 1, 0, uintptr(unsafe.Pointer(&attrListSize)))
	if r == 0 {
		stdoutWrite.Close()
		stderrWrite.Close()
		return CommandResult{}, &OSError{Kind: KindWinAppContainer, Op: "init attribute list", Err: err2}
	}
	defer procDeleteProcThreadAttrList.Call(uintptr(attrList))

	r, _, err2 = procUpdateProcThreadAttr.Call(
		uintptr(attrList), 0,
		procThreadAttributeSecurityCapabilities,
		uintptr(unsafe.Pointer(&secCaps)),
		unsafe.Sizeof(secCaps),
		0, 0,
	)
	if r == 0 {
		stdoutWrite.Close()
		stderrWrite.Close()
		return CommandResult{}, &OSError{Kind: KindWinAppContainer, Op: "update attribute list", Err: err2}
	}

	si := windows.StartupInfo{
		Cb:        uint32(unsafe.Sizeof(windows.StartupInfo{})),
		Flags:     windows.STARTF_USESTDHANDLES,
		StdOutput: windows.Handle(stdoutWrite.Fd()),
		StdErr:    windows.Handle(stderrWrite.Fd()),
	}
	var pi windows.ProcessInformation

	var cwdPtr *uint16
	if cwd != "" {
		cwdPtr, _ = syscall.UTF16PtrFromString(filepath.Clean(cwd))
	}
	cmdLinePtr, err := syscall.UTF16PtrFromString(cmdLine)
	if err != nil {
		stdoutWrite.Close()
		stderrWrite.Close()
		return CommandResult{}, &OSError{Kind: KindWinAppContainer, Op: "encode command line", Err: err}
	}

	// The child is created suspended and assigned to a job object with
	// KILL_ON_JOB_CLOSE before it runs a single instruction, so a timeout
	// kill takes the whole descendant process tree, not just the direct
	// child.
	job, err := newKillOnCloseJob()
	if err != nil {
		stdoutWrite.Close()
		stderrWrite.Close()
		return CommandResult{}, &OSError{Kind: KindWinAppContainer, Op: "create job object", Err: err}
	}
	defer windows.CloseHandle(job)

	creationFlags := uint32(extendedStartupInfoPresent | createNoWindow | createUnicodeEnvironment | createSuspended)

	err = windows.CreateProcess(nil, cmdLinePtr, nil, nil, true, creationFlags, nil, cwdPtr, &si, &pi)
	stdoutWrite.Close()
	stderrWrite.Close()
	if err != nil {
		return CommandResult{}, &OSError{Kind: KindWinAppContainer, Op: "create process", Err: err}
	}
	defer windows.CloseHandle(pi.Thread)
	defer windows.CloseHandle(pi.Process)

	if err := windows.AssignProcessToJobObject(job, pi.Process); err != nil {
		windows.TerminateProcess(pi.Process, 1)
		return CommandResult{}, &OSError{Kind: KindWinAppContainer, Op: "assign process to job", Err: err}
	}
	if _, err := windows.ResumeThread(pi.Thread); err != nil {
		windows.TerminateProcess(pi.Process, 1)
		return CommandResult{}, &OSError{Kind: KindWinAppContainer, Op: "resume thread", Err: err}
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	drainDone := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); io.Copy(&stdoutBuf, stdoutRead) }()
		go func() { defer wg.Done(); io.Copy(&stderrBuf, stderrRead) }()
		wg.Wait()
		close(drainDone)
	}()

	waitMs := uint32(p.timeout / time.Millisecond)
	event, waitErr := windows.WaitForSingleObject(pi.Process, waitMs)
	if waitErr == nil && event == uint32(windows.WAIT_TIMEOUT) {
		windows.TerminateJobObject(job, 1)
		<-drainDone
		return TimedOut(), nil
	}

	<-drainDone

	var exitCode uint32
	if err := windows.GetExitCodeProcess(pi.Process, &exitCode); err != nil {
		return CommandResult{}, &OSError{Kind: KindWinAppContainer, Op: "get exit code", Err: err}
	}

	return CommandResult{ExitCode: int(int32(exitCode)), Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}, nil
}

// newKillOnCloseJob creates an unnamed job object whose member processes are
// all terminated as soon as the job handle is closed or TerminateJobObject
// is called, so a single kill reaches the whole descendant tree a sandboxed
// command spawns.
func newKillOnCloseJob() (windows.Handle, error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return 0, err
	}
	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		windows.CloseHandle(job)
		return 0, err
	}
	return job, nil
}

func newPipe() (*os.File, *os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	if err := windows.SetHandleInformation(windows.Handle(r.Fd()), windows.HANDLE_FLAG_INHERIT, 0); err != nil {
		r.Close()
		w.Close()
		return nil, nil, err
	}
	return r, w, nil
}

func buildCommandLine(parts []string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = windows.EscapeArg(p)
	}
	line := ""
	for i, q := range quoted {
		if i > 0 {
			line += " "
		}
		line += q
	}
	return line
}

func (p *appContainerProvider) Dispose(ctx context.Context) error {
	p.mu.Lock()
	if p.state == stateDisposed {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.freeSid()
	p.markDisposed()
	return nil
}
