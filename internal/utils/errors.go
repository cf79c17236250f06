/*
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
    `fmt`

    `github.com/cloudwego/anvil/internal/errs`
)

func ESched(node int64, block int64, reason string, args ...interface{}) errs.ScheduleError {
    return errs.ScheduleError {
        Node   : node,
        Block  : block,
        Reason : fmt.Sprintf(reason, args...),
    }
}

func EBailout(pos int64, reason string, args ...interface{}) errs.BailoutError {
    return errs.BailoutError {
        Pos    : pos,
        Reason : fmt.Sprintf(reason, args...),
    }
}

func EVerify(a int64, b int64, loc string, reason string, args ...interface{}) errs.VerifyError {
    return errs.VerifyError {
        A      : a,
        B      : b,
        Loc    : loc,
        Reason : fmt.Sprintf(reason, args...),
    }
}
