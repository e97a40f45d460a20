package runtime

func createCoroutineLib(s *State) *Table {
	s.threadMeta = &Table{
		hashtable: map[any]any{
			"__name":     "THREAD",
			"__close":    Fn("coroutine.close", stdThreadClose),
			"__tostring": Fn("thread:__tostring", stdThreadToString),
			"__index": &Table{
				hashtable: map[any]any{
					"close":  Fn("coroutine.close", stdThreadClose),
					"resume": Fn("coroutine.resume", stdThreadResume),
					"status": Fn("coroutine.status", stdThreadStatus),
				},
			},
		},
	}

	return &Table{
		hashtable: map[any]any{
			"close":       Fn("coroutine.close", stdThreadClose),
			"create":      Fn("coroutine.create", stdThreadCreate),
			"isyieldable": Fn("coroutine.isyieldable", stdThreadIsYieldable),
			"running":     Fn("coroutine.running", stdThreadRunning),
			"status":      Fn("coroutine.status", stdThreadStatus),
			"resume":      Fn("coroutine.resume", stdThreadResume),
			"yield":       Fn("coroutine.yield", stdThreadYield),
			"wrap":        Fn("coroutine.wrap", stdThreadWrap),
		},
	}
}

func stdThreadCreate(t *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "coroutine.create", "function"); err != nil {
		return nil, err
	}
	thread, err := t.state.NewThread(args[0])
	if err != nil {
		return nil, err
	}
	return []any{thread}, nil
}

func stdThreadIsYieldable(t *Thread, _ []any) ([]any, error) {
	return []any{t.yieldable}, nil
}

// running reports the thread this call executes on and whether it is the
// main thread. The receiver already is the running thread; no lookup needed.
func stdThreadRunning(t *Thread, _ []any) ([]any, error) {
	return []any{t, t == t.state.main}, nil
}

func stdThreadStatus(t *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "coroutine.status", "thread"); err != nil {
		return nil, err
	}
	thread, _ := args[0].(*Thread)
	if thread == t {
		return []any{"running"}, nil
	}
	return []any{thread.Status()}, nil
}

// close kills a suspended coroutine, closing its stack. Closing a dead
// thread is a no-op; a running or normal thread cannot be closed.
func stdThreadClose(t *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "coroutine.close", "thread"); err != nil {
		return nil, err
	}
	thread, _ := args[0].(*Thread)
	switch thread.status {
	case statusRunning, statusNormal:
		return nil, coroutineErr("cannot close a %v coroutine", thread.status)
	case statusDead:
		if thread.deadErr != nil {
			return []any{false, errValue(thread.deadErr)}, nil
		}
		return []any{true}, nil
	}
	thread.status = statusDead
	thread.yield = nil
	_ = thread.stack.setRawTop(0)
	return []any{true}, nil
}

func stdThreadResume(_ *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "coroutine.resume", "thread"); err != nil {
		return nil, err
	}
	thread, _ := args[0].(*Thread)
	res, err := thread.Resume(args[1:])
	if err != nil {
		if _, isExit := ExitCode(err); isExit {
			return nil, err
		}
		return []any{false, errValue(err)}, nil
	}
	return append([]any{true}, res...), nil
}

func stdThreadYield(_ *Thread, args []any) ([]any, error) {
	return args, &Interrupt{kind: InterruptYield}
}

func stdThreadWrap(t *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "coroutine.wrap", "function"); err != nil {
		return nil, err
	}
	thread, err := t.state.NewThread(args[0])
	if err != nil {
		return nil, err
	}
	// Unlike resume, a wrapped coroutine propagates errors to its caller.
	resume := func(_ *Thread, args []any) ([]any, error) {
		return thread.Resume(args)
	}
	return []any{Fn("coroutine.wrap", resume)}, nil
}

func stdThreadToString(_ *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "thread:__tostring", "thread"); err != nil {
		return nil, err
	}
	return []any{ToString(args[0])}, nil
}
