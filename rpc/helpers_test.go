package rpc

import "duplex-rpc/calltable"

// calltableFuture waits on a future returned by Go.
type calltableFuture struct {
	p *calltable.Pending
}

func (f *calltableFuture) wait(out any) error {
	<-f.p.Done()
	res, _ := f.p.Result()
	return DecodeResult(res, out)
}
