// Package monitoring serves the state of a running kernel over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/sarchlab/lazyvm/mem/vm"
	"github.com/sarchlab/lazyvm/monitoring/web"
	"github.com/sarchlab/lazyvm/process"
	"github.com/sarchlab/lazyvm/sim"
	psprocess "github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor turns a simulation into a server that reports the processes,
// their pages, and the frame pool.
type Monitor struct {
	kernel     *process.Kernel
	portNumber int

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterKernel registers the kernel to be monitored.
func (m *Monitor) RegisterKernel(k *process.Kernel) {
	m.kernel = k
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        sim.GetIDGenerator().Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler of the monitoring API and the web page.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/processes", m.listProcesses)
	r.HandleFunc("/api/process/{pid}", m.listPages)
	r.HandleFunc("/api/page/{pid}/{addr}", m.pageDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/frames", m.listFrames)
	r.HandleFunc("/api/mmu", m.mmuStats)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	handler := m.Router()
	go func() {
		err := http.Serve(listener, handler)
		dieOnErr(err)
	}()

	return url
}

type processRsp struct {
	PID          vm.PID `json:"pid"`
	State        string `json:"state"`
	Reason       string `json:"reason,omitempty"`
	StackPointer uint64 `json:"stack_pointer"`
	NumPages     int    `json:"num_pages"`
	FDs          []int  `json:"fds"`
}

func (m *Monitor) listProcesses(w http.ResponseWriter, _ *http.Request) {
	procs := m.kernel.Processes()
	rsp := make([]processRsp, 0, len(procs))

	for _, p := range procs {
		state, reason := p.State()
		entry := processRsp{
			PID:          p.PID(),
			State:        state.String(),
			StackPointer: p.StackPointer(),
			NumPages:     p.AddressSpace().SPT().Len(),
			FDs:          p.FDs(),
		}

		if reason != nil {
			entry.Reason = reason.Error()
		}

		rsp = append(rsp, entry)
	}

	writeJSON(w, rsp)
}

type pageRsp struct {
	VAddr      uint64 `json:"vaddr"`
	Type       string `json:"type"`
	TargetType string `json:"target_type"`
	Writable   bool   `json:"writable"`
	Resident   bool   `json:"resident"`
	PAddr      uint64 `json:"paddr,omitempty"`
	SwapSlot   int    `json:"swap_slot"`
	MmapStart  uint64 `json:"mmap_start,omitempty"`
	MmapPages  int    `json:"mmap_pages,omitempty"`
}

func (m *Monitor) listPages(w http.ResponseWriter, r *http.Request) {
	p := m.findProcessOr404(w, mux.Vars(r)["pid"])
	if p == nil {
		return
	}

	pages := p.AddressSpace().Pages()
	rsp := make([]pageRsp, 0, len(pages))

	for _, page := range pages {
		entry := pageRsp{
			VAddr:      page.VAddr(),
			Type:       page.Type().String(),
			TargetType: page.TargetType().String(),
			Writable:   page.Writable(),
			SwapSlot:   page.SwapSlot(),
		}

		if frame := page.Frame(); frame != nil {
			entry.Resident = true
			entry.PAddr = frame.PAddr
		}

		entry.MmapStart, entry.MmapPages = page.Mapping()

		rsp = append(rsp, entry)
	}

	writeJSON(w, rsp)
}

func (m *Monitor) pageDetails(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	p := m.findProcessOr404(w, vars["pid"])
	if p == nil {
		return
	}

	addr, err := strconv.ParseUint(vars["addr"], 0, 64)
	if err != nil {
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}

	page, found := p.AddressSpace().FindPage(addr)
	if !found {
		http.Error(w, "Page not found", http.StatusNotFound)
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(page)
	serializer.SetMaxDepth(1)
	err = serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	PID       string `json:"pid,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p := m.findProcessOr404(w, req.PID)
	if p == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(p)
	serializer.SetMaxDepth(1)

	if req.FieldName != "" {
		err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

type framesRsp struct {
	Stats  vm.FrameStats  `json:"stats"`
	Frames []vm.FrameInfo `json:"frames"`
}

func (m *Monitor) listFrames(w http.ResponseWriter, _ *http.Request) {
	frames := m.kernel.FrameManager()

	writeJSON(w, framesRsp{
		Stats:  frames.Stats(),
		Frames: frames.Frames(),
	})
}

func (m *Monitor) mmuStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.kernel.MMU().Stats())
}

func (m *Monitor) findProcessOr404(
	w http.ResponseWriter,
	pidStr string,
) *process.Process {
	pid, err := strconv.ParseUint(pidStr, 10, 32)
	if err != nil {
		http.Error(w, "Invalid PID", http.StatusBadRequest)
		return nil
	}

	p, found := m.kernel.Process(vm.PID(pid))
	if !found {
		http.Error(w, "Process not found", http.StatusNotFound)
		return nil
	}

	return p
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	writeJSON(w, m.progressBars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	proc, err := psprocess.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memorySize, err := proc.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
